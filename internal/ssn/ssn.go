// Package ssn implements the serial safety net commit-time validator: the
// writer scan over a committing transaction's write set, the reader scan
// over its read set, and the pstamp < sstamp exclusion check. It depends
// only on the narrow set of fields txnctx, tuple, readers, and oid expose,
// never on the txn package itself, so transaction bookkeeping and commit
// validation stay decoupled in the spirit of the teacher's package split
// between its scheduler (Oracle) and executor.
package ssn

import (
	"context"
	"runtime"

	"go.uber.org/zap"

	"ssndb/internal/config"
	"ssndb/internal/errs"
	"ssndb/internal/fatptr"
	"ssndb/internal/lsn"
	"ssndb/internal/metrics"
	"ssndb/internal/oid"
	"ssndb/internal/readers"
	"ssndb/internal/tuple"
	"ssndb/internal/txnctx"
	"ssndb/internal/xid"
)

// ReadEntry is one read-set record: the committed version actually read.
type ReadEntry struct {
	OID oid.OID
	Rec *tuple.Record
}

// WriteEntry is one write-set record. Overwritten is nil for a pure
// insert (nothing to validate a predecessor bound against).
type WriteEntry struct {
	OID         oid.OID
	Overwritten *tuple.Record
	NewVersion  *tuple.Record
}

// Deps bundles the collaborators the validator needs to inspect remote
// transaction contexts and reader bitmaps.
type Deps struct {
	CtxTable *txnctx.Table
	Readers  *readers.SlotTable
	Objects  *oid.Vector
	Config   config.Config
	Metrics  *metrics.Registry
	Logger   *zap.SugaredLogger
}

// Validate runs the full SSN protocol for a transaction whose pre_commit
// claimed cstamp, mutating self's pstamp/sstamp in place, and returns
// errs.ErrSSNExclusionFailure if the exclusion check fails.
func Validate(ctx context.Context, deps Deps, selfXID xid.XID, self *txnctx.Context, reads []ReadEntry, writes []WriteEntry, cstamp lsn.LSN) error {
	self.LowerSStamp(uint64(cstamp))

	writerScan(ctx, deps, selfXID, self, writes, cstamp)
	readerScan(ctx, deps, selfXID, self, reads, writes, cstamp)

	if self.PStamp() >= self.SStamp() {
		if deps.Metrics != nil {
			deps.Metrics.ObserveSSNExclusion()
		}
		return errs.ErrSSNExclusionFailure
	}
	return nil
}

func writerScan(ctx context.Context, deps Deps, selfXID xid.XID, self *txnctx.Context, writes []WriteEntry, cstamp lsn.LSN) {
	threshold := deps.Config.OldVersionThreshold
	begin := self.Begin()

	for _, w := range writes {
		if w.Overwritten == nil {
			continue // pure insert: no predecessor to bound
		}
		age := ageOf(deps, w.Overwritten, begin)

		if age < threshold && !w.Overwritten.Readers.IsPessimistic() {
			deps.Readers.Enumerate(&w.Overwritten.Readers, func(readerXID xid.XID) {
				if readerXID == selfXID {
					return
				}
				snap, ok := deps.CtxTable.Snapshot(readerXID)
				if !ok {
					return
				}
				end := snap.End
				switch snap.State {
				case txnctx.Cmmtd:
				case txnctx.Committing:
					committed, waitEnd, err := WaitForCommitResult(ctx, deps, readerXID)
					if err != nil {
						deps.Logger.Warnw("writer scan: commit wait did not settle", "reader", readerXID, "error", err)
					}
					if !committed {
						return
					}
					end = waitEnd
				default:
					return
				}
				if uint64(end) < uint64(cstamp) {
					self.BumpPStamp(uint64(end))
				}
			})
			continue
		}

		// Old or pessimistic version: no finer bound possible.
		self.BumpPStamp(uint64(cstamp) - 1)
		break
	}
}

// ageOf computes self.begin - overwritten.clsn, resolving an in-flight
// overwritten version (still tagged Xid, i.e. its own post-commit retag
// has not yet landed) by reading its creator's context. If the creator's
// end LSN cannot be observed within a bounded number of attempts, age is
// reported as 0 (treated as fresh) rather than guessed old — the
// conservative direction, since "fresh" forces full reader enumeration
// instead of silently skipping real readers.
func ageOf(deps Deps, overwritten *tuple.Record, begin lsn.LSN) uint64 {
	clsn := overwritten.CLSN()
	if clsn.Tag() == fatptr.Log {
		return uint64(begin) - clsn.LSN()
	}
	creatorXID := xid.XID(clsn.XID())
	for i := 0; i < 100; i++ {
		snap, ok := deps.CtxTable.Snapshot(creatorXID)
		if ok && snap.End != lsn.Invalid {
			return uint64(begin) - uint64(snap.End)
		}
		runtime.Gosched()
	}
	return 0
}

func readerScan(ctx context.Context, deps Deps, selfXID xid.XID, self *txnctx.Context, reads []ReadEntry, writes []WriteEntry, cstamp lsn.LSN) {
	shadowed := make(map[oid.OID]bool, len(writes))
	for _, w := range writes {
		shadowed[w.OID] = true
	}

	for _, r := range reads {
		if shadowed[r.OID] {
			continue
		}
		head := deps.Objects.Load(r.OID)
		rlsn := r.Rec.CLSN()
		if rlsn.Tag() != fatptr.Log {
			continue
		}
		overwriter := fetchOverwriter(head, rlsn.LSN())
		if overwriter == nil {
			continue
		}

		switch overwriter.CLSN().Tag() {
		case fatptr.Xid:
			ownerXID := xid.XID(overwriter.CLSN().XID())
			if ownerXID == selfXID {
				continue
			}
			snap, ok := deps.CtxTable.Snapshot(ownerXID)
			if !ok || snap.End == lsn.Invalid {
				continue // successor has not reached pre_commit: trivially orders after us
			}
			if uint64(snap.End) > uint64(cstamp) {
				continue
			}
			committed, endLSN, err := WaitForCommitResult(ctx, deps, ownerXID)
			if err != nil {
				deps.Logger.Warnw("reader scan: commit wait did not settle", "overwriter", ownerXID, "error", err)
			}
			if committed {
				self.LowerSStamp(uint64(endLSN))
			}
		case fatptr.Log:
			if s := r.Rec.SStamp(); s != 0 {
				self.LowerSStamp(s)
			}
		}
	}
}

// fetchOverwriter walks the chain from head, skipping Xid-tagged entries,
// and treats the first Log-tagged entry whose clsn equals rlsn as the
// read version; that version's immediate chain-successor (the next-newer
// entry walked so far) is the overwriter. Returns nil if the read version
// is still the head (no overwriter yet) or was not found on the chain.
func fetchOverwriter(head *tuple.Record, rlsn uint64) *tuple.Record {
	var newer *tuple.Record
	for cur := head; cur != nil; cur = cur.Next {
		clsn := cur.CLSN()
		if clsn.Tag() == fatptr.Log && clsn.LSN() == rlsn {
			return newer
		}
		newer = cur
	}
	return nil
}

// WaitForCommitResult bounds the spin on another transaction's state
// settling out of Committing. Exceeding the configured spin count returns
// ErrSpinExhausted; the caller treats that the same as "committed" (safe:
// may cause a false abort, never an incorrect commit) but should log it,
// since an unbounded-in-practice spin is the condition spec.md's design
// notes flag as needing visibility.
func WaitForCommitResult(ctx context.Context, deps Deps, target xid.XID) (committed bool, end lsn.LSN, err error) {
	maxSpin := deps.Config.MaxCommitSpin
	if maxSpin <= 0 {
		maxSpin = 10000
	}
	for i := 0; i < maxSpin; i++ {
		select {
		case <-ctx.Done():
			return true, 0, ctx.Err()
		default:
		}
		snap, ok := deps.CtxTable.Snapshot(target)
		if !ok {
			return true, 0, nil
		}
		if snap.State != txnctx.Committing {
			return snap.State == txnctx.Cmmtd, snap.End, nil
		}
		runtime.Gosched()
	}
	snap, _ := deps.CtxTable.Snapshot(target)
	return true, snap.End, errs.ErrSpinExhausted
}
