// Package logmgr implements the log manager collaborator the MVCC core
// consumes as an append-only, LSN-issuing service: new_tx_log, cur_lsn,
// pre_commit, commit, discard, and log_insert. Durability mechanics
// beyond issuing and persisting LSNs (shipping, checkpoint replay) are
// out of scope; the sequencer itself is in scope because the commit path
// depends on it for every transaction.
//
// The optional file-backed sink follows the teacher's h_wal.Wal interface
// shape (Append/StartCKPT/EndCKPT/SyncCache) adapted to a single
// monotonic-LSN writer instead of dborchard-tiny-txn's unimplemented
// stub, since ssndb actually needs a working sequencer to drive commits.
package logmgr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"ssndb/internal/lsn"
	"ssndb/internal/oid"
)

// Record is one log_insert call queued against an in-flight transaction's
// intent, flushed to the sink at Commit.
type Record struct {
	OID     oid.OID
	Payload []byte
}

// TxLog is a transaction's log intent: the ordered set of records it will
// make durable if it commits, and the end LSN pre_commit claimed for it.
type TxLog struct {
	records []Record
	end     lsn.LSN
}

// LogInsert appends fid/payload to the intent (fid is folded into OID
// since this engine does not model multiple facilities/files).
func (tl *TxLog) LogInsert(o oid.OID, payload []byte) {
	tl.records = append(tl.records, Record{OID: o, Payload: payload})
}

// EndLSN returns the end LSN claimed by PreCommit, or lsn.Invalid before
// that call.
func (tl *TxLog) EndLSN() lsn.LSN { return tl.end }

// Manager is the in-memory, monotonic-LSN log sequencer. An optional
// io.Writer sink receives a durable record stream on every Commit; nil
// disables persistence (the default for unit tests).
type Manager struct {
	mu  sync.Mutex
	cur uint64 // last issued LSN
	sink io.Writer

	log *zap.SugaredLogger
}

// Config configures a Manager.
type Config struct {
	// Sink, if non-nil, receives a length-prefixed record stream on every
	// Commit. Pass an *os.File to persist to disk.
	Sink   io.Writer
	Logger *zap.SugaredLogger
}

// NewManager creates a Manager with LSNs starting at 1 (0 is
// lsn.Invalid).
func NewManager(cfg Config) *Manager {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manager{cur: 0, sink: cfg.Sink, log: log}
}

// NewTxLog creates a fresh, empty intent for a new transaction.
func (m *Manager) NewTxLog() *TxLog { return &TxLog{} }

// CurLSN returns the most recently issued LSN without claiming a new one;
// Txn.Begin uses this to set its begin stamp.
func (m *Manager) CurLSN() lsn.LSN {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lsn.LSN(m.cur)
}

// PreCommit claims the next LSN as intent's end stamp. This in-memory
// sequencer never returns a non-nil error (the sink is written only at
// Commit); a caller that gets one aborts with reason INTERNAL.
func (m *Manager) PreCommit(intent *TxLog) (lsn.LSN, error) {
	m.mu.Lock()
	m.cur++
	end := lsn.LSN(m.cur)
	m.mu.Unlock()

	intent.end = end
	return end, nil
}

// Commit finalizes intent: flushes its records to the durable sink (if
// configured) tagged with its end LSN. A sink write failure here is
// reported but does not roll back the LSN claim — per spec, end, once
// non-invalid, never changes; intent keeps the end LSN PreCommit gave it.
func (m *Manager) Commit(intent *TxLog) error {
	if m.sink == nil || len(intent.records) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, r := range intent.records {
		if err := writeRecord(&buf, uint64(intent.end), r); err != nil {
			return fmt.Errorf("logmgr: encode record: %w", err)
		}
	}
	m.mu.Lock()
	_, err := m.sink.Write(buf.Bytes())
	m.mu.Unlock()
	if err != nil {
		m.log.Warnw("log sink write failed", "lsn", intent.end, "error", err)
		return fmt.Errorf("logmgr: sink write: %w", err)
	}
	return nil
}

// Discard abandons intent on abort; no durable trace of its records is
// ever written.
func (m *Manager) Discard(intent *TxLog) {
	intent.records = nil
}

func writeRecord(w io.Writer, commitLSN uint64, r Record) error {
	var hdr [16]byte
	binary.BigEndian.PutUint64(hdr[0:8], commitLSN)
	binary.BigEndian.PutUint32(hdr[8:12], uint32(r.OID))
	binary.BigEndian.PutUint32(hdr[12:16], uint32(len(r.Payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(r.Payload)
	return err
}

// Checkpointer is the narrow interface the log manager's checkpoint hook
// exposes to a background driver; ssndb's reference implementation below
// is a minimal stand-in (sync the sink, nothing more) since checkpoint
// replay is out of scope.
type Checkpointer interface {
	StartCheckpoint() error
	EndCheckpoint() error
}

// StartCheckpoint begins a checkpoint by flushing the sink if it supports
// it.
func (m *Manager) StartCheckpoint() error {
	if f, ok := m.sink.(*os.File); ok {
		return f.Sync()
	}
	return nil
}

// EndCheckpoint completes the checkpoint. With no real checkpoint replay
// format implemented, this is currently a no-op beyond logging.
func (m *Manager) EndCheckpoint() error {
	m.log.Debugw("checkpoint end")
	return nil
}

var _ Checkpointer = (*Manager)(nil)
