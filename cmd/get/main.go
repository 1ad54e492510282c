// Command get downloads the URLs given on the command line with the same
// engine and registry the bridge uses, and shows their combined progress.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"github.com/NamanBalaji/nativedl/internal/config"
	"github.com/NamanBalaji/nativedl/internal/engine"
	"github.com/NamanBalaji/nativedl/internal/logger"
	"github.com/NamanBalaji/nativedl/internal/registry"
	"github.com/NamanBalaji/nativedl/internal/status"
)

func main() {
	cfg, err := config.GetConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if len(cfg.URLs) == 0 {
		fmt.Fprintln(os.Stderr, "usage: get [flags] URL...")
		os.Exit(2)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err == nil {
		if err := logger.InitLogging(cfg.Debug, cfg.LogPath()); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to initialize logging: %v\n", err)
		}
	}
	defer logger.Close()

	failed, err := download(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// tracker aggregates task updates into a single progress bar and records
// which tasks have finished.
type tracker struct {
	bar *progressbar.ProgressBar

	mu       sync.Mutex
	updates  map[string]status.Update
	finished map[string]bool
	failed   map[string]bool
	pending  int
	allDone  chan struct{}
}

func newTracker(n int) *tracker {
	return &tracker{
		bar: progressbar.NewOptions64(-1,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowBytes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetDescription(fmt.Sprintf("0/%d", n)),
		),
		updates:  make(map[string]status.Update),
		finished: make(map[string]bool),
		failed:   make(map[string]bool),
		pending:  n,
		allDone:  make(chan struct{}),
	}
}

// update is the dispatcher sink.
func (t *tracker) update(u status.Update) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.updates[u.URL] = u

	var total, done int64
	for _, tu := range t.updates {
		total += tu.TotalBytes
		done += tu.CompletedBytes
	}
	if total > 0 {
		t.bar.ChangeMax64(total)
	}
	_ = t.bar.Set64(done)

	if u.Status == status.StatusCompleted {
		t.finishLocked(u.URL, false)
	}
}

// observe watches raw engine events for failures, which the canonical status
// does not distinguish from an idle task.
func (t *tracker) observe(ev status.Event) {
	switch ev.Kind {
	case status.KindFail, status.KindCancel:
		t.mu.Lock()
		t.finishLocked(ev.Task.URL, true)
		t.mu.Unlock()
	}
}

func (t *tracker) finishLocked(url string, failed bool) {
	if t.finished[url] {
		return
	}
	t.finished[url] = true
	if failed {
		t.failed[url] = true
	}
	t.pending--
	t.bar.Describe(fmt.Sprintf("%d/%d", len(t.finished), len(t.finished)+t.pending))
	if t.pending == 0 {
		close(t.allDone)
	}
}

func download(cfg *config.Config) (int, error) {
	eng := engine.New(&engine.Config{
		MaxConcurrentDownloads: cfg.MaxConcurrentTasks,
		MaxRetries:             cfg.MaxRetries,
		RetryDelay:             cfg.RetryDelay,
		ThrottleSpeed:          cfg.ThrottleSpeed,
		ProgressInterval:       cfg.ProgressInterval,
	}, nil, nil)
	if err := eng.Init(); err != nil {
		return 0, fmt.Errorf("failed to initialize engine: %w", err)
	}
	defer func() {
		if err := eng.Shutdown(); err != nil {
			logger.Errorf("Error during engine shutdown: %v", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := registry.New(eng, cfg.RootDir)
	go reg.Run(ctx)

	urls := unique(cfg.URLs)
	t := newTracker(len(urls))

	unsubscribe := eng.Subscribe(t.observe)
	defer unsubscribe()

	dispatcher := registry.NewDispatcher(reg, t.update)
	detach := dispatcher.Attach()
	defer detach()
	go dispatcher.Run(ctx)

	if err := os.MkdirAll(cfg.RootDir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create download directory: %w", err)
	}

	for _, url := range urls {
		if err := reg.Create(ctx, url, ""); err != nil {
			fmt.Fprintf(os.Stderr, "Skipping %s: %v\n", url, err)
			t.mu.Lock()
			t.finishLocked(url, true)
			t.mu.Unlock()
		}
	}

	select {
	case <-t.allDone:
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "\nInterrupted, pausing downloads...")
	}
	_ = t.bar.Finish()

	stats := eng.GetGlobalStats()
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(os.Stderr, "\n%d completed, %d failed, %s downloaded to %s\n",
		stats.CompletedDownloads, len(t.failed), humanize.IBytes(uint64(stats.TotalDownloaded)), cfg.RootDir)
	for url := range t.failed {
		fmt.Fprintf(os.Stderr, "  failed: %s\n", url)
	}

	return len(t.failed), nil
}

func unique(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}
