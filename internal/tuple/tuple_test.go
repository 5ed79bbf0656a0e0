package tuple

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"ssndb/internal/fatptr"
)

func TestNewRecordStartsInFlight(t *testing.T) {
	r := NewRecord(42, nil, []byte("hello"))
	assert.False(t, r.IsCommitted())
	assert.Equal(t, fatptr.Xid, r.CLSN().Tag())
	assert.Equal(t, uint64(42), r.CLSN().XID())
}

func TestRetagCommittedTransitionsToLog(t *testing.T) {
	r := NewRecord(42, nil, []byte("hello"))
	r.RetagCommitted(100)
	assert.True(t, r.IsCommitted())
	assert.Equal(t, fatptr.Log, r.CLSN().Tag())
	assert.Equal(t, uint64(100), r.CLSN().LSN())
}

func TestBumpXStampIsMonotonic(t *testing.T) {
	r := NewRecord(1, nil, nil)
	r.BumpXStamp(10)
	r.BumpXStamp(5)
	assert.Equal(t, uint64(10), r.XStamp(), "xstamp must never decrease")
	r.BumpXStamp(20)
	assert.Equal(t, uint64(20), r.XStamp())
}

func TestBumpXStampUnderConcurrency(t *testing.T) {
	r := NewRecord(1, nil, nil)
	var wg sync.WaitGroup
	for i := uint64(1); i <= 100; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.BumpXStamp(i)
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(100), r.XStamp())
}

func TestSetSStampIsReadable(t *testing.T) {
	r := NewRecord(1, nil, nil)
	assert.Equal(t, uint64(0), r.SStamp())
	r.SetSStamp(55)
	assert.Equal(t, uint64(55), r.SStamp())
}

func TestNextChainsToPredecessor(t *testing.T) {
	older := NewRecord(1, nil, []byte("older"))
	newer := NewRecord(2, older, []byte("newer"))
	assert.Same(t, older, newer.Next)
	assert.Nil(t, older.Next)
}
