package txn

import (
	"context"

	"ssndb/internal/epoch"
	"ssndb/internal/errs"
	"ssndb/internal/fatptr"
	"ssndb/internal/logmgr"
	"ssndb/internal/oid"
	"ssndb/internal/readers"
	"ssndb/internal/ssn"
	"ssndb/internal/tuple"
	"ssndb/internal/txnctx"
	"ssndb/internal/xid"
)

// Flags control a transaction's behavior at BeginTxn.
type Flags uint8

const (
	// ReadOnly rejects Insert/Update on the transaction, letting the
	// engine skip write-set bookkeeping entirely.
	ReadOnly Flags = 1 << iota
	// LowLevelScan reads the newest visible version without registering
	// as a reader or contributing to SSN stamping, for maintenance scans
	// that do not need serializability.
	LowLevelScan
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

// AbortReason classifies why a transaction aborted, surfaced on the wire
// as a plain string label (also used as the Prometheus metric label).
type AbortReason int

const (
	AbortInternal AbortReason = iota
	AbortUnstableRead
	AbortWriteWriteConflict
	AbortSSNExclusionFailure
	AbortUser
)

func (r AbortReason) String() string {
	switch r {
	case AbortInternal:
		return "INTERNAL"
	case AbortUnstableRead:
		return "UNSTABLE_READ"
	case AbortWriteWriteConflict:
		return "WRITE_WRITE_CONFLICT"
	case AbortSSNExclusionFailure:
		return "SSN_EXCLUSION_FAILURE"
	case AbortUser:
		return "USER"
	default:
		return "UNKNOWN"
	}
}

// writeEntry is one OID's write-set record. Keying the write set by OID
// rather than by overwritten-version address collapses repeated writes to
// the same key within a transaction for free, since a transaction can
// never have more than one in-flight version per OID.
type writeEntry struct {
	key         []byte
	oid         oid.OID
	overwritten *tuple.Record // nil for a pure insert
	newVersion  *tuple.Record
	insertedKey bool // true if this write created the index entry itself
}

// Txn is one transaction's handle: its identity in the context table, its
// reader-list slot, its log intent, and its read/write sets.
type Txn struct {
	eng   *Engine
	flags Flags

	xid xid.XID
	ctx *txnctx.Context

	participant *epoch.Participant
	slot        *readers.Slot
	window      *oid.Window
	intent      *logmgr.TxLog

	reads  []ssn.ReadEntry
	writes map[oid.OID]*writeEntry

	finished bool
}

// BeginTxn starts a new transaction pinned at the log manager's current
// LSN, registered with the epoch reclaimer and given its own reader-list
// slot.
func (e *Engine) BeginTxn(flags Flags) *Txn {
	x, ctx := e.ctxTable.Alloc()
	ctx.SetBegin(e.log.CurLSN())
	ctx.SetState(txnctx.Active)

	p := e.epochMgr.RegisterThread()
	p.Enter()

	t := &Txn{
		eng:         e,
		flags:       flags,
		xid:         x,
		ctx:         ctx,
		participant: p,
		slot:        e.readerTable.AllocateSlot(),
		window:      e.oidAlloc.NewWindow(),
		intent:      e.log.NewTxLog(),
		writes:      make(map[oid.OID]*writeEntry),
	}
	e.adjustActive(1)
	return t
}

// XID returns the transaction's identity, mainly useful for logging.
func (t *Txn) XID() xid.XID { return t.xid }

// Read returns the payload visible to this transaction under key, or
// errs.ErrKeyNotFound if no visible version exists.
func (t *Txn) Read(key []byte) ([]byte, error) {
	if t.finished {
		return nil, errs.ErrTxnFinished
	}
	o, ok := t.eng.idx.Lookup(key)
	if !ok {
		return nil, errs.ErrKeyNotFound
	}
	val, err := t.readOID(o)
	if err != nil {
		return nil, err
	}
	if val == nil {
		return nil, errs.ErrKeyNotFound
	}
	return val, nil
}

func (t *Txn) readOID(o oid.OID) ([]byte, error) {
	if we, ok := t.writes[o]; ok {
		return we.newVersion.Payload, nil
	}
	rec, err := t.visibleVersion(o)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return rec.Payload, nil
}

// visibleVersion walks o's chain for the first version visible to this
// transaction's snapshot, retrying a bounded number of times if the walk
// hits a context slot recycled mid-read (an unstable read).
func (t *Txn) visibleVersion(o oid.OID) (*tuple.Record, error) {
	for attempt := 0; attempt < 256; attempt++ {
		rec, unstable, err := t.walkChain(o)
		if err != nil {
			t.unwind(AbortSSNExclusionFailure)
			return nil, err
		}
		if !unstable {
			return rec, nil
		}
	}
	t.unwind(AbortUnstableRead)
	return nil, errs.ErrUnstableRead
}

func (t *Txn) walkChain(o oid.OID) (rec *tuple.Record, unstable bool, err error) {
	for cur := t.eng.objects.Load(o); cur != nil; cur = cur.Next {
		clsn := cur.CLSN()
		switch clsn.Tag() {
		case fatptr.Log:
			if clsn.LSN() <= uint64(t.ctx.Begin()) {
				if err := t.recordRead(o, cur, clsn.LSN()); err != nil {
					return nil, false, err
				}
				return cur, false, nil
			}
		case fatptr.Xid:
			owner := xid.XID(clsn.XID())
			if owner == t.xid {
				return cur, false, nil
			}
			snap, ok := t.eng.ctxTable.Snapshot(owner)
			if !ok {
				return nil, true, nil
			}
			if snap.State == txnctx.Cmmtd && uint64(snap.End) <= uint64(t.ctx.Begin()) {
				if err := t.recordRead(o, cur, uint64(snap.End)); err != nil {
					return nil, false, err
				}
				return cur, false, nil
			}
			if snap.State == txnctx.Committing && t.eng.cfg.ReadCommittedSpin {
				// Rather than skip straight to an older version, spin for
				// this owner's commit to settle: it may yet turn out
				// visible (end <= our begin), avoiding an unnecessary
				// fallback to a stale read.
				deps := ssn.Deps{CtxTable: t.eng.ctxTable, Config: t.eng.cfg, Logger: t.eng.logger}
				committed, endLSN, err := ssn.WaitForCommitResult(context.Background(), deps, owner)
				if err == nil && committed && uint64(endLSN) <= uint64(t.ctx.Begin()) {
					if rerr := t.recordRead(o, cur, uint64(endLSN)); rerr != nil {
						return nil, false, rerr
					}
					return cur, false, nil
				}
			}
		}
	}
	return nil, false, nil
}

// recordRead registers this transaction as a reader of rec (whose
// effective commit LSN is commitLSN, which may differ from rec's own
// clsn payload if the owner has committed but not yet retagged it), raises
// pstamp to commitLSN for a version younger than the old-version threshold,
// and narrows sstamp against any overwriter that has already committed.
// LowLevelScan transactions skip all of this.
func (t *Txn) recordRead(o oid.OID, rec *tuple.Record, commitLSN uint64) error {
	if t.flags.has(LowLevelScan) {
		return nil
	}
	age := uint64(t.ctx.Begin()) - commitLSN
	if age < t.eng.cfg.OldVersionThreshold {
		t.ctx.BumpPStamp(commitLSN)
		rec.Readers.Register(t.slot, t.xid)
		t.reads = append(t.reads, ssn.ReadEntry{OID: o, Rec: rec})
	}
	if s := rec.SStamp(); s != 0 {
		t.ctx.LowerSStamp(s)
	}
	if t.eng.cfg.DoEarlySSNChecks && t.ctx.PStamp() >= t.ctx.SStamp() {
		return errs.ErrSSNExclusionFailure
	}
	return nil
}

// Insert creates a brand-new key. It fails with errs.ErrDuplicateKey if
// the key is already present.
func (t *Txn) Insert(key, payload []byte) error {
	if t.finished {
		return errs.ErrTxnFinished
	}
	if t.flags.has(ReadOnly) {
		return errs.ErrReadOnlyTransaction
	}

	o := t.window.Next()
	newVer := tuple.NewRecord(uint64(t.xid), nil, payload)
	t.eng.objects.InstallHead(o, newVer)

	keyCopy := append([]byte(nil), key...)
	if !t.eng.idx.InsertIfAbsent(keyCopy, o) {
		t.eng.objects.UnlinkHead(o, newVer, nil)
		return errs.ErrDuplicateKey
	}

	t.intent.LogInsert(o, payload)
	t.writes[o] = &writeEntry{key: keyCopy, oid: o, newVersion: newVer, insertedKey: true}
	return nil
}

// checkWriteConflict decides whether head can be overwritten by this
// transaction, mirroring the teacher's update_version dispatch on head's
// clsn: a still-in-flight version owned by someone other than self always
// conflicts, a committed version that landed after our snapshot began is
// a first-committer-wins conflict, and an aborted version is simply
// ignored (it is garbage, safe to overwrite). A committed-but-not-yet-
// retagged head (clsn still tagged Xid, owner's state already Cmmtd) is
// treated the same as the already-retagged Log case, since that is just
// a timing gap between a commit landing and its post-commit stamp
// installation running.
func (t *Txn) checkWriteConflict(head *tuple.Record) error {
	if head == nil {
		return nil
	}
	for attempt := 0; attempt < 3; attempt++ {
		clsn := head.CLSN()
		if clsn.Tag() == fatptr.Log {
			if clsn.LSN() > uint64(t.ctx.Begin()) {
				return errs.ErrWriteWriteConflict
			}
			return nil
		}

		owner := xid.XID(clsn.XID())
		snap, ok := t.eng.ctxTable.Snapshot(owner)
		if !ok {
			continue // owner's slot was recycled mid-read; re-read head's clsn
		}
		switch snap.State {
		case txnctx.Cmmtd:
			if uint64(snap.End) > uint64(t.ctx.Begin()) {
				return errs.ErrWriteWriteConflict
			}
			return nil
		case txnctx.Abrtd:
			return nil
		default: // Embryo, Active, Committing: some other live transaction owns it
			return errs.ErrWriteWriteConflict
		}
	}
	return errs.ErrWriteWriteConflict
}

// Update installs a new version over an existing key. It fails with
// errs.ErrKeyNotFound if the key has never been inserted and with
// errs.ErrWriteWriteConflict if another in-flight or too-recent
// transaction already owns the current version.
func (t *Txn) Update(key, payload []byte) error {
	if t.finished {
		return errs.ErrTxnFinished
	}
	if t.flags.has(ReadOnly) {
		return errs.ErrReadOnlyTransaction
	}

	o, ok := t.eng.idx.Lookup(key)
	if !ok {
		return errs.ErrKeyNotFound
	}

	if we, exists := t.writes[o]; exists {
		newVer := tuple.NewRecord(uint64(t.xid), we.newVersion.Next, payload)
		t.eng.objects.CollapseSelfOverwrite(o, newVer)
		we.newVersion = newVer
		t.intent.LogInsert(o, payload)
		return nil
	}

	head := t.eng.objects.Load(o)
	if err := t.checkWriteConflict(head); err != nil {
		return err
	}

	newVer := tuple.NewRecord(uint64(t.xid), head, payload)
	if !t.eng.objects.UpdateHead(o, head, newVer) {
		return errs.ErrWriteWriteConflict
	}

	t.intent.LogInsert(o, payload)
	t.writes[o] = &writeEntry{key: append([]byte(nil), key...), oid: o, overwritten: head, newVersion: newVer}
	return nil
}

// Scan walks the index from first while match accepts keys (the first key
// match rejects ends the scan), and calls cb with the payload visible to
// this transaction for each such key that has a visible version; keys with
// no visible version are skipped. cb returning false ends the scan early.
func (t *Txn) Scan(first []byte, match func(key []byte) bool, cb func(key, val []byte) bool) error {
	if t.finished {
		return errs.ErrTxnFinished
	}
	var scanErr error
	t.eng.idx.Scan(first, match, func(key []byte, o oid.OID) bool {
		val, err := t.readOID(o)
		if err != nil {
			scanErr = err
			return false
		}
		if val == nil {
			return true
		}
		return cb(key, val)
	})
	return scanErr
}

// Commit runs pre_commit, SSN validation, and (on success) commit and
// post-commit stamp installation. Any failure aborts the transaction and
// returns the error that caused it.
func (t *Txn) Commit() error {
	if t.finished {
		return errs.ErrTxnFinished
	}

	end, err := t.eng.log.PreCommit(t.intent)
	if err != nil {
		t.unwind(AbortInternal)
		return errs.ErrLogPreCommitFailed
	}
	t.ctx.SetEnd(end)
	t.ctx.SetState(txnctx.Committing)

	writes := make([]ssn.WriteEntry, 0, len(t.writes))
	for _, we := range t.writes {
		writes = append(writes, ssn.WriteEntry{OID: we.oid, Overwritten: we.overwritten, NewVersion: we.newVersion})
	}
	deps := ssn.Deps{
		CtxTable: t.eng.ctxTable,
		Readers:  t.eng.readerTable,
		Objects:  t.eng.objects,
		Config:   t.eng.cfg,
		Metrics:  t.eng.metrics,
		Logger:   t.eng.logger,
	}
	if err := ssn.Validate(context.Background(), deps, t.xid, t.ctx, t.reads, writes, end); err != nil {
		t.unwind(AbortSSNExclusionFailure)
		return err
	}

	if err := t.eng.log.Commit(t.intent); err != nil {
		t.unwind(AbortInternal)
		return errs.ErrLogPreCommitFailed
	}

	t.ctx.SetState(txnctx.Cmmtd)
	for _, we := range t.writes {
		we.newVersion.RetagCommitted(uint64(end))
		if we.overwritten != nil {
			we.overwritten.SetSStamp(t.ctx.SStamp())
		}
	}
	for _, r := range t.reads {
		r.Rec.Readers.Deregister(t.slot)
		if _, shadowed := t.writes[r.OID]; !shadowed {
			r.Rec.BumpXStamp(uint64(end))
		}
	}

	t.finish()
	t.eng.metrics.ObserveCommit()
	return nil
}

// Abort discards every write and read-set registration this transaction
// made and marks it Abrtd.
func (t *Txn) Abort() error {
	if t.finished {
		return errs.ErrTxnFinished
	}
	t.unwind(AbortUser)
	return nil
}

func (t *Txn) unwind(reason AbortReason) {
	for _, we := range t.writes {
		if we.insertedKey {
			t.eng.objects.UnlinkHead(we.oid, we.newVersion, nil)
			t.eng.idx.Delete(we.key)
		} else {
			t.eng.objects.UnlinkHead(we.oid, we.newVersion, we.overwritten)
		}
	}
	for _, r := range t.reads {
		r.Rec.Readers.Deregister(t.slot)
	}
	t.eng.log.Discard(t.intent)
	t.ctx.SetState(txnctx.Abrtd)
	t.finish()
	t.eng.metrics.ObserveAbort(reason.String())
}

// finish exits the epoch participant and defers freeing the context-table
// slot until the epoch observed at exit time has aged past the grace
// period, so a remote Snapshot that started just before this call cannot
// observe the slot recycled to a different transaction mid-read.
func (t *Txn) finish() {
	observedEpoch := t.eng.epochMgr.Epoch()
	t.participant.Exit()
	t.participant.DeregisterThread()
	t.eng.epochMgr.DeferFree(observedEpoch, func() {
		t.eng.ctxTable.Free(t.xid)
	})
	t.eng.adjustActive(-1)
	t.finished = true
}
