// Package txn implements the transaction object: the public surface a
// caller drives (BeginTxn, Read, Insert, Update, Scan, Commit, Abort) and
// the Engine that wires every collaborator component together, the same
// way the teacher's pkg/txn package ties its scheduler, watermark, and WAL
// together behind a single entry point (dborchard-tiny-txn
// pkg/txn/a_txn.go).
package txn

import (
	"io"
	"sync/atomic"

	"go.uber.org/zap"

	"ssndb/internal/config"
	"ssndb/internal/epoch"
	"ssndb/internal/index"
	"ssndb/internal/logmgr"
	"ssndb/internal/metrics"
	"ssndb/internal/oid"
	"ssndb/internal/readers"
	"ssndb/internal/txnctx"
)

// DefaultContextTableSize bounds how many transactions can be concurrently
// in flight (Active, Committing, or un-freed) at once.
const DefaultContextTableSize = 4096

// EngineConfig configures a new Engine. The zero value is not usable;
// build one with config.Default() and NewEngine.
type EngineConfig struct {
	Config config.Config

	// Sink, if non-nil, makes commits durable through the log manager.
	Sink io.Writer

	Logger  *zap.SugaredLogger
	Metrics *metrics.Registry

	// ContextTableSize overrides DefaultContextTableSize.
	ContextTableSize int

	// EpochAdvanceInterval drives the background epoch advancer; zero
	// leaves advancement to explicit AdvanceEpoch calls (what the test
	// suite does, to keep reclamation deterministic).
	EpochAdvanceInterval epoch.Config
}

// Engine owns every long-lived collaborator a transaction touches: the
// epoch reclaimer, the OID allocator and object vector, the transaction
// context table, the index, the log manager, and the reader-slot table.
type Engine struct {
	cfg config.Config

	epochMgr    *epoch.Manager
	oidAlloc    *oid.Allocator
	objects     *oid.Vector
	ctxTable    *txnctx.Table
	idx         *index.Index
	log         *logmgr.Manager
	readerTable *readers.SlotTable

	metrics *metrics.Registry
	logger  *zap.SugaredLogger

	active atomic.Int64
}

// NewEngine constructs an Engine from cfg, creating every collaborator
// fresh. There is one Engine per logical database instance.
func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	m := cfg.Metrics

	tableSize := cfg.ContextTableSize
	if tableSize <= 0 {
		tableSize = DefaultContextTableSize
	}

	epochCfg := cfg.EpochAdvanceInterval
	epochCfg.Logger = logger
	epochCfg.Metrics = m

	return &Engine{
		cfg:         cfg.Config,
		epochMgr:    epoch.NewManager(epochCfg),
		oidAlloc:    oid.NewAllocator(cfg.Config.OIDExtentSize),
		objects:     oid.NewVector(),
		ctxTable:    txnctx.NewTable(tableSize),
		idx:         index.New(),
		log:         logmgr.NewManager(logmgr.Config{Sink: cfg.Sink, Logger: logger}),
		readerTable: readers.NewSlotTable(cfg.Config.ReaderBitmapWidth),
		metrics:     m,
		logger:      logger,
	}
}

// AdvanceEpoch runs one epoch-reclamation cycle; callers that did not
// configure EpochAdvanceInterval's AdvanceInterval drive this themselves
// (typically from a single background goroutine).
func (e *Engine) AdvanceEpoch() bool { return e.epochMgr.Advance() }

// Shutdown stops the background epoch advancer, if any, and drains every
// deferred free.
func (e *Engine) Shutdown() { e.epochMgr.Shutdown() }

// Metrics exposes the engine's metrics registry (nil if none was
// configured) for wiring an HTTP /metrics handler.
func (e *Engine) Metrics() *metrics.Registry { return e.metrics }

func (e *Engine) adjustActive(delta int64) {
	n := e.active.Add(delta)
	if e.metrics != nil {
		e.metrics.SetActiveTxns(int(n))
	}
}
