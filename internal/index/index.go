// Package index implements the ordered key->OID map the MVCC core
// consumes as an external collaborator: insert_if_absent, lookup, and
// scan. It is a stand-in for the Masstree index the source engine uses,
// built on github.com/tidwall/btree the way the teacher's MvStore wraps
// btree.BTreeG (dborchard-tiny-txn pkg/f_mv_store.go) — same library,
// generalized from a versioned key/value pair to a plain []byte->oid.OID
// map since version chains now live in the object vector, not the index.
package index

import (
	"bytes"
	"sync"

	"github.com/tidwall/btree"

	"ssndb/internal/oid"
)

type entry struct {
	key []byte
	oid oid.OID
}

func less(a, b entry) bool { return bytes.Compare(a.key, b.key) < 0 }

// Index is the ordered key->OID map. All three operations are
// synchronized with a single RWMutex: the index itself is not on the
// hot lock-free path the version chains are, matching spec.md's framing
// of it as an external, independently-implemented collaborator.
type Index struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[entry]
}

// New creates an empty Index.
func New() *Index {
	return &Index{tree: btree.NewBTreeG(less)}
}

// InsertIfAbsent installs key->o iff key is not already present. Returns
// false if key already maps to some OID.
func (ix *Index) InsertIfAbsent(key []byte, o oid.OID) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.tree.Get(entry{key: key}); ok {
		return false
	}
	ix.tree.Set(entry{key: append([]byte(nil), key...), oid: o})
	return true
}

// Lookup returns the OID mapped to key, if any.
func (ix *Index) Lookup(key []byte) (oid.OID, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.tree.Get(entry{key: key})
	if !ok {
		return oid.Invalid, false
	}
	return e.oid, true
}

// Scan walks keys in order starting at first. match is consulted on each
// candidate key before invoking cb; returning false from match ends the
// scan (mirrors spec.md's match_first predicate). cb returning false ends
// the scan early too.
func (ix *Index) Scan(first []byte, match func(key []byte) bool, cb func(key []byte, o oid.OID) bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ix.tree.Ascend(entry{key: first}, func(e entry) bool {
		if match != nil && !match(e.key) {
			return false
		}
		return cb(e.key, e.oid)
	})
}

// Delete removes key from the index entirely. Not part of spec.md's
// three-operation contract but needed by abort paths that unwind a
// successful insert-if-absent.
func (ix *Index) Delete(key []byte) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.tree.Delete(entry{key: key})
}
