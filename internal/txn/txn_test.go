package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssndb/internal/config"
	"ssndb/internal/errs"
	"ssndb/internal/txnctx"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng := NewEngine(EngineConfig{Config: config.Default()})
	t.Cleanup(eng.Shutdown)
	return eng
}

func TestInsertThenReadSeesOwnWrite(t *testing.T) {
	eng := newTestEngine(t)

	w := eng.BeginTxn(0)
	require.NoError(t, w.Insert([]byte("k1"), []byte("v1")))
	val, err := w.Read([]byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), val)
	require.NoError(t, w.Commit())

	r := eng.BeginTxn(ReadOnly)
	val, err = r.Read([]byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), val)
	require.NoError(t, r.Abort())
}

func TestDuplicateInsertFails(t *testing.T) {
	eng := newTestEngine(t)

	w := eng.BeginTxn(0)
	require.NoError(t, w.Insert([]byte("k1"), []byte("v1")))
	require.NoError(t, w.Commit())

	w2 := eng.BeginTxn(0)
	err := w2.Insert([]byte("k1"), []byte("v2"))
	assert.ErrorIs(t, err, errs.ErrDuplicateKey)
	require.NoError(t, w2.Abort())
}

func TestReadMissingKeyFails(t *testing.T) {
	eng := newTestEngine(t)
	r := eng.BeginTxn(ReadOnly)
	_, err := r.Read([]byte("missing"))
	assert.ErrorIs(t, err, errs.ErrKeyNotFound)
	require.NoError(t, r.Abort())
}

func TestUpdateWithoutPriorInsertFails(t *testing.T) {
	eng := newTestEngine(t)
	w := eng.BeginTxn(0)
	err := w.Update([]byte("missing"), []byte("v"))
	assert.ErrorIs(t, err, errs.ErrKeyNotFound)
	require.NoError(t, w.Abort())
}

func TestReaderDoesNotSeeUncommittedWrite(t *testing.T) {
	eng := newTestEngine(t)

	w := eng.BeginTxn(0)
	require.NoError(t, w.Insert([]byte("k1"), []byte("v1")))
	require.NoError(t, w.Commit())

	w2 := eng.BeginTxn(0)
	require.NoError(t, w2.Update([]byte("k1"), []byte("v2")))

	r := eng.BeginTxn(ReadOnly)
	val, err := r.Read([]byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), val, "reader began before w2's update, must not see its in-flight version")
	require.NoError(t, r.Abort())

	require.NoError(t, w2.Commit())
}

func TestSecondWriterToSameUncommittedKeyConflicts(t *testing.T) {
	eng := newTestEngine(t)

	w := eng.BeginTxn(0)
	require.NoError(t, w.Insert([]byte("k1"), []byte("v1")))
	require.NoError(t, w.Commit())

	w1 := eng.BeginTxn(0)
	require.NoError(t, w1.Update([]byte("k1"), []byte("v2")))

	w2 := eng.BeginTxn(0)
	err := w2.Update([]byte("k1"), []byte("v3"))
	assert.ErrorIs(t, err, errs.ErrWriteWriteConflict)
	require.NoError(t, w2.Abort())

	require.NoError(t, w1.Commit())
}

// TestUpdateInstallsOverCommittedButNotYetRetaggedHead covers the race
// where a committing transaction has already transitioned to Cmmtd but
// its post-commit retag of its new version's clsn from Xid to Log has
// not yet run. A second transaction updating the same key must treat
// that head as a normal, already-settled predecessor rather than a
// write-write conflict.
func TestUpdateInstallsOverCommittedButNotYetRetaggedHead(t *testing.T) {
	eng := newTestEngine(t)

	w := eng.BeginTxn(0)
	require.NoError(t, w.Insert([]byte("k1"), []byte("v1")))
	require.NoError(t, w.Commit())

	w1 := eng.BeginTxn(0)
	require.NoError(t, w1.Update([]byte("k1"), []byte("v2")))
	// Simulate w1 having reached Cmmtd without its post-commit retag
	// having run yet: head is still Xid-tagged, owned by w1.
	w1.ctx.SetEnd(eng.log.CurLSN())
	w1.ctx.SetState(txnctx.Cmmtd)

	w2 := eng.BeginTxn(0)
	err := w2.Update([]byte("k1"), []byte("v3"))
	assert.NoError(t, err, "a Cmmtd-but-not-yet-retagged head must install, not conflict")
	require.NoError(t, w2.Commit())
}

func TestRepeatedUpdateWithinSameTxnCollapsesWriteSet(t *testing.T) {
	eng := newTestEngine(t)

	w := eng.BeginTxn(0)
	require.NoError(t, w.Insert([]byte("k1"), []byte("v1")))
	require.NoError(t, w.Commit())

	w2 := eng.BeginTxn(0)
	require.NoError(t, w2.Update([]byte("k1"), []byte("v2")))
	require.NoError(t, w2.Update([]byte("k1"), []byte("v3")))
	assert.Len(t, w2.writes, 1, "two updates to the same key in one transaction must collapse to one write-set entry")

	val, err := w2.Read([]byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v3"), val)
	require.NoError(t, w2.Commit())

	r := eng.BeginTxn(ReadOnly)
	val, err = r.Read([]byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v3"), val)
	require.NoError(t, r.Abort())
}

func TestAbortUnwindsInsertAndIndex(t *testing.T) {
	eng := newTestEngine(t)

	w := eng.BeginTxn(0)
	require.NoError(t, w.Insert([]byte("k1"), []byte("v1")))
	require.NoError(t, w.Abort())

	r := eng.BeginTxn(ReadOnly)
	_, err := r.Read([]byte("k1"))
	assert.ErrorIs(t, err, errs.ErrKeyNotFound, "aborted insert must not leave a visible index entry")
	require.NoError(t, r.Abort())
}

func TestReadOnlyTransactionCannotWrite(t *testing.T) {
	eng := newTestEngine(t)
	t1 := eng.BeginTxn(ReadOnly)
	assert.ErrorIs(t, t1.Insert([]byte("k1"), []byte("v1")), errs.ErrReadOnlyTransaction)
	require.NoError(t, t1.Abort())
}

func TestOperationsAfterFinishFail(t *testing.T) {
	eng := newTestEngine(t)
	w := eng.BeginTxn(0)
	require.NoError(t, w.Insert([]byte("k1"), []byte("v1")))
	require.NoError(t, w.Commit())

	assert.ErrorIs(t, w.Commit(), errs.ErrTxnFinished)
	assert.ErrorIs(t, w.Abort(), errs.ErrTxnFinished)
	_, err := w.Read([]byte("k1"))
	assert.ErrorIs(t, err, errs.ErrTxnFinished)
}

func TestScanVisitsOnlyVisibleKeys(t *testing.T) {
	eng := newTestEngine(t)

	w := eng.BeginTxn(0)
	require.NoError(t, w.Insert([]byte("a"), []byte("1")))
	require.NoError(t, w.Insert([]byte("b"), []byte("2")))
	require.NoError(t, w.Insert([]byte("c"), []byte("3")))
	require.NoError(t, w.Commit())

	r := eng.BeginTxn(ReadOnly)
	var keys []string
	require.NoError(t, r.Scan(nil, nil, func(key, val []byte) bool {
		keys = append(keys, string(key))
		return true
	}))
	assert.Equal(t, []string{"a", "b", "c"}, keys)
	require.NoError(t, r.Abort())
}

func TestLowLevelScanDoesNotRegisterAsReader(t *testing.T) {
	eng := newTestEngine(t)

	w := eng.BeginTxn(0)
	require.NoError(t, w.Insert([]byte("k1"), []byte("v1")))
	require.NoError(t, w.Commit())

	r := eng.BeginTxn(ReadOnly | LowLevelScan)
	_, err := r.Read([]byte("k1"))
	require.NoError(t, err)
	assert.Empty(t, r.reads, "a low-level-scan transaction must not populate its read set")
	require.NoError(t, r.Abort())
}
