// Command ssndb-driver is a small demo harness: it runs a handful of
// scripted transactions against one Engine to exercise Read/Insert/Update,
// and a conflict between two goroutines (one reads a key another updates), the
// same shape as the teacher's cmd/driver/main.go but driven by a config
// file and a run-mode flag instead of the teacher's fixed script.
package main

import (
	"fmt"
	"os"
	"sync"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"ssndb/internal/config"
	"ssndb/internal/errs"
	"ssndb/internal/txn"
)

var (
	configPath = flag.String("config", "", "path to a TOML config file (defaults built in if absent)")
	runMode    = flag.String("mode", "demo", "run mode: demo or conflict")
	verbose    = flag.Bool("verbose", false, "enable debug logging")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fatalf("ssndb-driver: loading config: %v", err)
	}

	logCfg := zap.NewDevelopmentConfig()
	if !*verbose {
		logCfg.Level.SetLevel(zap.InfoLevel)
	}
	rawLog, err := logCfg.Build()
	if err != nil {
		fatalf("ssndb-driver: building logger: %v", err)
	}
	defer rawLog.Sync()
	log := rawLog.Sugar()

	eng := txn.NewEngine(txn.EngineConfig{Config: cfg, Logger: log})
	defer eng.Shutdown()

	switch *runMode {
	case "demo":
		runDemo(eng, log)
	case "conflict":
		runConflict(eng, log)
	default:
		fatalf("ssndb-driver: unknown -mode %q", *runMode)
	}
}

func runDemo(eng *txn.Engine, log *zap.SugaredLogger) {
	t := eng.BeginTxn(0)
	if err := t.Insert([]byte("HDD"), []byte("Hard disk")); err != nil {
		fatalf("insert: %v", err)
	}
	if err := t.Commit(); err != nil {
		fatalf("commit: %v", err)
	}

	t = eng.BeginTxn(0)
	if err := t.Update([]byte("HDD"), []byte("Hard disk drive")); err != nil {
		fatalf("update: %v", err)
	}
	if err := t.Commit(); err != nil {
		fatalf("commit: %v", err)
	}

	t = eng.BeginTxn(txn.ReadOnly)
	val, err := t.Read([]byte("HDD"))
	_ = t.Abort()
	if err != nil {
		fatalf("read: %v", err)
	}
	fmt.Printf("HDD = %s\n", val)
	log.Infow("demo run complete")
}

func runConflict(eng *txn.Engine, log *zap.SugaredLogger) {
	seed := eng.BeginTxn(0)
	if err := seed.Insert([]byte("HDD"), []byte("Hard disk")); err != nil {
		fatalf("seed insert: %v", err)
	}
	if err := seed.Commit(); err != nil {
		fatalf("seed commit: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		t := eng.BeginTxn(0)
		if _, err := t.Read([]byte("HDD")); err != nil {
			log.Warnw("reader: read failed", "error", err)
			return
		}
		if err := t.Insert([]byte("SSD"), []byte("Solid state drive")); err != nil {
			log.Warnw("reader: insert failed", "error", err)
			return
		}
		if err := t.Commit(); err != nil {
			if err == errs.ErrSSNExclusionFailure || err == errs.ErrWriteWriteConflict {
				log.Infow("reader: expected conflict abort", "error", err)
				return
			}
			log.Warnw("reader: unexpected commit failure", "error", err)
		}
	}()

	go func() {
		defer wg.Done()
		t := eng.BeginTxn(0)
		if err := t.Update([]byte("HDD"), []byte("Hard disk (updated)")); err != nil {
			log.Warnw("writer: update failed", "error", err)
			return
		}
		if err := t.Commit(); err != nil {
			log.Warnw("writer: commit failed", "error", err)
		}
	}()

	wg.Wait()

	t := eng.BeginTxn(txn.ReadOnly)
	val, _ := t.Read([]byte("HDD"))
	_ = t.Abort()
	fmt.Printf("HDD = %s\n", val)
	log.Infow("conflict run complete")
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
