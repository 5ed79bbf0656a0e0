// Package tuple implements the version record ("dbtuple"): the object
// header plus creator/successor/reader stamps that make up one entry in a
// per-OID version chain. Chain links are plain, GC-tracked *Record
// pointers rather than tagged addresses — see internal/fatptr's package
// doc for why that split is safe and still preserves the one property
// that has to survive the translation: the clsn XID->LOG transition is a
// single atomic store.
package tuple

import (
	"sync/atomic"

	"ssndb/internal/fatptr"
	"ssndb/internal/readers"
)

// Record is one version in a chain: an object header ({next, size}) with
// the dbtuple fields (clsn, sstamp, xstamp) embedded in the same Go
// struct, and the payload carried alongside it.
type Record struct {
	// Next is the chain link to the version this one superseded, nil at
	// the end of the chain. It is written once, before the Record is
	// published into the object vector (by compare-and-swap, or by the
	// owner-exclusive store of a self-overwrite collapse), and never
	// mutated afterward.
	Next *Record

	// clsn is the creator stamp. While in-flight it is tagged Xid holding
	// the creator's XID; post-commit it is atomically retagged to Log
	// holding the commit LSN. The indirection through atomic.Pointer is
	// what makes that retag a single atomic store, since fatptr.Ptr
	// itself does not fit in one machine word.
	clsn atomic.Pointer[fatptr.Ptr]

	sstamp atomic.Uint64
	xstamp atomic.Uint64

	Size    uint32
	Payload []byte

	Readers readers.Bitmap
}

// NewRecord builds a fresh in-flight version owned by creator, chained
// below next.
func NewRecord(creator uint64, next *Record, payload []byte) *Record {
	r := &Record{
		Next:    next,
		Size:    uint32(len(payload)),
		Payload: payload,
	}
	clsn := fatptr.NewXid(creator)
	r.clsn.Store(&clsn)
	return r
}

// CLSN returns the current creator/commit stamp.
func (r *Record) CLSN() fatptr.Ptr {
	return *r.clsn.Load()
}

// IsCommitted reports whether CLSN has been retagged to Log.
func (r *Record) IsCommitted() bool {
	return r.CLSN().Tag() == fatptr.Log
}

// RetagCommitted performs the post-commit clsn transition XID -> LOG,
// publishing commitLSN as the single atomic store that makes this
// version visible to future readers via LSN comparison.
func (r *Record) RetagCommitted(commitLSN uint64) {
	p := fatptr.NewLog(commitLSN)
	r.clsn.Store(&p)
}

// SStamp returns the successor (overwriter) commit LSN; 0 means no
// overwriter has committed yet.
func (r *Record) SStamp() uint64 { return r.sstamp.Load() }

// SetSStamp installs the successor's commit LSN. Written once, by the
// successor's post-commit.
func (r *Record) SetSStamp(v uint64) { r.sstamp.Store(v) }

// XStamp returns the largest commit LSN of any reader that has ever read
// this version.
func (r *Record) XStamp() uint64 { return r.xstamp.Load() }

// BumpXStamp performs the monotonic-max CAS update of xstamp: it never
// decreases xstamp even under concurrent readers racing to install their
// own commit LSN.
func (r *Record) BumpXStamp(commitLSN uint64) {
	for {
		old := r.xstamp.Load()
		if commitLSN <= old {
			return
		}
		if r.xstamp.CompareAndSwap(old, commitLSN) {
			return
		}
	}
}
