// Package errs collects the sentinel errors the MVCC core surfaces,
// following the teacher's errmsg package convention (dborchard-tiny-txn
// pkg/a_misc/errmsg/types.go): plain package-level errors.New values,
// always tested with errors.Is, never string-matched.
package errs

import "errors"

var (
	// ErrWriteWriteConflict is returned when update_version finds the
	// chain head owned by another transaction that has not committed, or
	// committed too late to be visible.
	ErrWriteWriteConflict = errors.New("ssndb: write-write conflict")

	// ErrUnstableRead is returned when chain traversal cannot settle on a
	// visible version within bounded retries (a torn read of a
	// concurrently recycled context).
	ErrUnstableRead = errors.New("ssndb: unstable read")

	// ErrSSNExclusionFailure is returned when a committing transaction's
	// pstamp is not strictly less than its sstamp.
	ErrSSNExclusionFailure = errors.New("ssndb: SSN exclusion failure")

	// ErrLogPreCommitFailed is returned when the log manager rejects
	// pre_commit; the caller always aborts with reason INTERNAL.
	ErrLogPreCommitFailed = errors.New("ssndb: log pre-commit failed")

	// ErrIndexInsertFailed names an index insert that failed for a reason
	// other than a plain duplicate key. The B-tree index in internal/index
	// has no such failure mode, so no code path returns it; a duplicate
	// key is reported as ErrDuplicateKey.
	ErrIndexInsertFailed = errors.New("ssndb: index insert failed")

	// ErrSpinExhausted is returned by WaitForCommitResult when a
	// transaction's COMMITTING state outlives the configured spin bound.
	ErrSpinExhausted = errors.New("ssndb: commit-wait spin exhausted")

	// ErrReadOnlyTransaction is returned by Insert/Update on a
	// transaction begun with the ReadOnly flag.
	ErrReadOnlyTransaction = errors.New("ssndb: read-only transaction")

	// ErrTxnFinished is returned by any operation on a transaction that
	// has already committed or aborted.
	ErrTxnFinished = errors.New("ssndb: transaction already finished")

	// ErrKeyNotFound is returned by Read/a failed Scan lookup when no
	// version of the key is visible to the reading transaction, whether
	// because the key was never inserted or because only versions newer
	// than its snapshot exist.
	ErrKeyNotFound = errors.New("ssndb: key not found")

	// ErrDuplicateKey is returned by Insert when the key is already
	// present in the index.
	ErrDuplicateKey = errors.New("ssndb: duplicate key")
)
