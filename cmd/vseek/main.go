package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/zsiec/vseek/internal/config"
	"github.com/zsiec/vseek/internal/demux"
	"github.com/zsiec/vseek/internal/emudec"
	"github.com/zsiec/vseek/internal/indexstore"
	"github.com/zsiec/vseek/internal/media"
	"github.com/zsiec/vseek/internal/session"
)

var version = "dev"

const usage = `usage: vseek [-config file] <command> [flags] [args]

commands:
  info   <file.ts>...              print stream metadata
  frames <file.ts> <index>...      decode frames by index
  batch  [-n N] [-start I] [-at SEC] [-warmup] <file.ts>...
                                   walk files in batches, one session per file
  stream [-buffer C] [-batch N] <file.ts>
                                   decode in push mode until the end or SIGINT
  index  <file.ts>...              scan files into the index cache
  synth  [-o file] [-frames N] [-gop G] [-codec h264|h265] [-bitdepth B]
                                   write a synthetic transport stream
`

func main() {
	configPath := flag.String("config", "", "config file (default: config.yaml in the config dir or .)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, closeLog, err := config.SetupLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer closeLog()
	slog.SetDefault(log)

	if err := cfg.Validate(log); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	a := &app{cfg: cfg, log: log}
	defer a.close()

	if err := a.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		slog.Error("command failed", "command", flag.Arg(0), "version", version, "error", err)
		a.close()
		closeLog()
		os.Exit(1)
	}
}

type app struct {
	cfg *config.Config
	log *slog.Logger

	mu    sync.Mutex
	store *indexstore.Store
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "info":
		return a.info(ctx, args)
	case "frames":
		return a.frames(ctx, args)
	case "batch":
		return a.batch(ctx, args)
	case "stream":
		return a.stream(ctx, args)
	case "index":
		return a.index(ctx, args)
	case "synth":
		return a.synth(args)
	case "version":
		fmt.Println(version)
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// indexCache returns the persisted scan cache, or nil when it is disabled
// or cannot be opened.
func (a *app) indexCache() demux.IndexCache {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cfg.Index.Disabled {
		return nil
	}
	if a.store == nil {
		store, err := indexstore.Open(a.cfg.Index.CacheDir)
		if err != nil {
			a.log.Warn("index cache unavailable, scanning every file", "dir", a.cfg.Index.CacheDir, "error", err)
			a.cfg.Index.Disabled = true
			return nil
		}
		a.store = store
	}
	return a.store
}

func (a *app) open(ctx context.Context, path string) (media.Demuxer, error) {
	d, err := demux.Open(ctx, path, a.indexCache(), a.log)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (a *app) newManager(warmup int) *session.Manager {
	cfg := a.cfg.SessionConfig()
	if warmup > 0 {
		cfg.WarmUp = session.NewWarmUpGroup(warmup)
	}
	return session.NewManager(a.open, emudec.Factory(a.log), cfg, a.log)
}

func (a *app) close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("closing index cache", "error", err)
		}
		a.store = nil
	}
}
