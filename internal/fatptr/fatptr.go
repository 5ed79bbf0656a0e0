// Package fatptr implements the tagged-pointer ("fat pointer") sum type
// that discriminates a dbtuple's clsn field between its two meaningful
// states: owned by an in-flight transaction, or retagged to a committed
// log sequence number.
//
// A native engine packs the tag into spare bits of a 64-bit machine word
// and reuses the same word for chain links, since any in-memory address
// and any LSN happen to fit the same width. Go gives chain links and
// object-vector heads a real, GC-tracked pointer type instead (see
// internal/tuple and internal/oid), so fatptr.Ptr only needs to carry the
// two tagged payloads those links can never hold: Log and Xid. The
// property that matters — a clsn's XID->LOG transition is a single atomic
// store/load of one word — is preserved here because Ptr is plain data: a
// single atomic store of a pointer to a Ptr on the holder (see
// internal/tuple), not an update across several fields, is what publishes
// it.
package fatptr

import "fmt"

// Tag discriminates the payload carried by a Ptr.
type Tag uint8

const (
	// Null marks an empty pointer: a clsn that has not yet been assigned
	// (never observed in practice, since NewRecord always starts a clsn
	// at Xid).
	Null Tag = iota
	// Log marks a committed version: the payload is a log sequence
	// number (LSN).
	Log
	// Xid marks an in-flight version owned by a live transaction: the
	// payload is that transaction's XID.
	Xid
)

func (t Tag) String() string {
	switch t {
	case Null:
		return "NULL"
	case Log:
		return "LOG"
	case Xid:
		return "XID"
	default:
		return "UNKNOWN"
	}
}

// Ptr is the fat pointer. Exactly one of the payload fields is meaningful,
// selected by Tag. It is comparable and safe to copy.
type Ptr struct {
	tag Tag
	lsn uint64 // valid iff tag == Log
	xid uint64 // valid iff tag == Xid
}

// NullPtr is the zero value and the canonical empty pointer.
var NullPtr = Ptr{tag: Null}

// NewLog builds a Ptr tagged Log carrying the given commit LSN.
func NewLog(lsn uint64) Ptr { return Ptr{tag: Log, lsn: lsn} }

// NewXid builds a Ptr tagged Xid carrying the given transaction id.
func NewXid(xid uint64) Ptr { return Ptr{tag: Xid, xid: xid} }

// Tag reports the discriminant.
func (p Ptr) Tag() Tag { return p.tag }

// IsNull reports whether p is the empty pointer.
func (p Ptr) IsNull() bool { return p.tag == Null }

// LSN returns the log sequence number. Panics if Tag() != Log; callers must
// check the tag before dereferencing the payload.
func (p Ptr) LSN() uint64 {
	if p.tag != Log {
		panic(fmt.Sprintf("fatptr: LSN() on non-Log tag %s", p.tag))
	}
	return p.lsn
}

// XID returns the transaction id. Panics if Tag() != Xid.
func (p Ptr) XID() uint64 {
	if p.tag != Xid {
		panic(fmt.Sprintf("fatptr: XID() on non-Xid tag %s", p.tag))
	}
	return p.xid
}

func (p Ptr) String() string {
	switch p.tag {
	case Log:
		return fmt.Sprintf("LOG(%d)", p.lsn)
	case Xid:
		return fmt.Sprintf("XID(%d)", p.xid)
	default:
		return "NULL"
	}
}
