package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssndb/internal/oid"
)

func TestInsertIfAbsentRejectsDuplicate(t *testing.T) {
	ix := New()
	assert.True(t, ix.InsertIfAbsent([]byte("a"), oid.OID(1)))
	assert.False(t, ix.InsertIfAbsent([]byte("a"), oid.OID(2)))

	got, ok := ix.Lookup([]byte("a"))
	require.True(t, ok)
	assert.Equal(t, oid.OID(1), got)
}

func TestLookupMissingKey(t *testing.T) {
	ix := New()
	_, ok := ix.Lookup([]byte("missing"))
	assert.False(t, ok)
}

func TestScanVisitsInOrderAndRespectsMatch(t *testing.T) {
	ix := New()
	for i, k := range []string{"a", "c", "b", "e", "d"} {
		ix.InsertIfAbsent([]byte(k), oid.OID(i+1))
	}

	var visited []string
	ix.Scan([]byte("b"), func(key []byte) bool { return string(key) < "e" }, func(key []byte, o oid.OID) bool {
		visited = append(visited, string(key))
		return true
	})
	assert.Equal(t, []string{"b", "c", "d"}, visited)
}

func TestScanCallbackCanStopEarly(t *testing.T) {
	ix := New()
	for i, k := range []string{"a", "b", "c", "d"} {
		ix.InsertIfAbsent([]byte(k), oid.OID(i+1))
	}

	var visited []string
	ix.Scan(nil, nil, func(key []byte, o oid.OID) bool {
		visited = append(visited, string(key))
		return len(visited) < 2
	})
	assert.Equal(t, []string{"a", "b"}, visited)
}

func TestDeleteRemovesKey(t *testing.T) {
	ix := New()
	ix.InsertIfAbsent([]byte("x"), oid.OID(9))
	ix.Delete([]byte("x"))
	_, ok := ix.Lookup([]byte("x"))
	assert.False(t, ok)
	assert.True(t, ix.InsertIfAbsent([]byte("x"), oid.OID(10)))
}
