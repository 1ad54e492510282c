package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/NamanBalaji/nativedl/internal/common"
	"github.com/NamanBalaji/nativedl/internal/downloader"
	"github.com/NamanBalaji/nativedl/internal/logger"
	"github.com/NamanBalaji/nativedl/internal/repository"
	"github.com/NamanBalaji/nativedl/internal/status"
	httpProtocol "github.com/NamanBalaji/nativedl/pkg/protocol/http"
)

var (
	// ErrDownloadNotFound is returned when a download cannot be found.
	ErrDownloadNotFound = errors.New("download not found")

	// ErrInvalidURL is returned for URLs the engine cannot fetch.
	ErrInvalidURL = errors.New("invalid URL")

	// ErrDownloadExists is returned when trying to add a duplicate download.
	ErrDownloadExists = errors.New("download already exists")

	// ErrEngineNotRunning is returned when an operation requires the engine to be running.
	ErrEngineNotRunning = errors.New("engine is not running")
)

// Config holds the engine settings.
type Config struct {
	MaxConcurrentDownloads int
	MaxRetries             int
	RetryDelay             time.Duration
	// ThrottleSpeed caps the combined transfer rate in bytes per second.
	// Zero means unlimited.
	ThrottleSpeed    int64
	ProgressInterval time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		MaxConcurrentDownloads: 3,
		MaxRetries:             3,
		RetryDelay:             2 * time.Second,
		ProgressInterval:       500 * time.Millisecond,
	}
}

// Engine downloads URLs to files over HTTP, persists its records in a
// repository and reports task events to its subscribers.
type Engine struct {
	mu sync.RWMutex

	downloads      map[uuid.UUID]*downloader.Download
	client         *httpProtocol.Client
	config         *Config
	repository     *repository.BoltDBRepository
	queueProcessor *QueueProcessor
	limiter        *rate.Limiter

	listenersMu  sync.Mutex
	listeners    map[int]func(status.Event)
	nextListener int

	ctx        context.Context
	cancelFunc context.CancelFunc
	stopCh     chan struct{}
	wg         sync.WaitGroup
	running    bool
}

// New creates an engine over repo and client. Init must be called before
// downloads can be added.
func New(config *Config, repo *repository.BoltDBRepository, client *httpProtocol.Client) *Engine {
	if config == nil {
		logger.Debugf("No config provided, using default config")
		config = DefaultConfig()
	}
	if client == nil {
		client = httpProtocol.NewClient(nil)
	}

	ctx, cancelFunc := context.WithCancel(context.Background())

	e := &Engine{
		downloads:  make(map[uuid.UUID]*downloader.Download),
		client:     client,
		config:     config,
		repository: repo,
		listeners:  make(map[int]func(status.Event)),
		ctx:        ctx,
		cancelFunc: cancelFunc,
		stopCh:     make(chan struct{}),
	}

	if config.ThrottleSpeed > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(config.ThrottleSpeed), int(config.ThrottleSpeed))
		logger.Infof("Throttling downloads to %s/s", humanize.IBytes(uint64(config.ThrottleSpeed)))
	}

	return e
}

// Init restores stored downloads and starts the queue.
//
// Downloads that were active when the engine last stopped come back paused,
// queued ones are queued again, and completed downloads whose file has gone
// are marked failed.
func (e *Engine) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		logger.Debugf("Engine already running, skipping initialization")
		return nil
	}

	logger.Infof("Initializing engine")

	if err := e.loadDownloads(); err != nil {
		return fmt.Errorf("failed to load downloads: %w", err)
	}

	e.queueProcessor = NewQueueProcessor(e.config.MaxConcurrentDownloads, e.runDownload, e.stopCh)

	queued := e.sortedLocked()
	for _, d := range queued {
		if d.GetState() == common.StateQueued {
			e.queueProcessor.Enqueue(d.ID)
		}
	}

	e.running = true
	logger.Infof("Engine initialized with %d download(s)", len(e.downloads))

	return nil
}

func (e *Engine) loadDownloads() error {
	if e.repository == nil {
		return nil
	}

	downloads, err := e.repository.FindAll()
	if err != nil {
		return fmt.Errorf("failed to retrieve downloads: %w", err)
	}

	for _, d := range downloads {
		changed := false
		switch d.GetState() {
		case common.StateActive:
			d.SetState(common.StatePaused)
			changed = true
		case common.StateCompleted:
			if _, err := os.Stat(d.FilePath); err != nil {
				logger.Warnf("File for completed download %s is missing: %v", d.ID, err)
				d.SetError(fmt.Errorf("file missing: %w", err))
				d.SetState(common.StateFailed)
				changed = true
			}
		}

		if changed {
			if err := e.repository.Save(d); err != nil {
				logger.Errorf("Failed to save restored download %s: %v", d.ID, err)
			}
		}

		e.downloads[d.ID] = d
		logger.Debugf("Restored download %s (%s) as %s", d.ID, d.URL, d.GetState())
	}

	return nil
}

// Enqueue adds a download of url into filePath and queues it.
func (e *Engine) Enqueue(url, filePath string) (uuid.UUID, error) {
	logger.Infof("Adding download for URL: %s", url)

	if !e.client.Supports(url) {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrInvalidURL, url)
	}

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return uuid.Nil, ErrEngineNotRunning
	}

	for _, d := range e.downloads {
		if d.URL == url && !d.GetState().IsTerminal() {
			e.mu.Unlock()
			logger.Warnf("Download already exists for URL: %s", url)
			return uuid.Nil, ErrDownloadExists
		}
	}

	d := downloader.NewDownload(url, filePath)
	d.SetState(common.StateQueued)
	e.downloads[d.ID] = d
	e.mu.Unlock()

	if err := e.save(d); err != nil {
		e.mu.Lock()
		delete(e.downloads, d.ID)
		e.mu.Unlock()
		return uuid.Nil, fmt.Errorf("failed to save download: %w", err)
	}

	e.emit(status.KindWait, d)
	e.queueProcessor.Enqueue(d.ID)

	logger.Infof("Download added with ID: %s", d.ID)
	return d.ID, nil
}

// GetDownload retrieves a download by ID.
func (e *Engine) GetDownload(id uuid.UUID) (*downloader.Download, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	d, ok := e.downloads[id]
	if !ok {
		return nil, ErrDownloadNotFound
	}
	return d, nil
}

// Resume queues a paused or failed download again. Other states are left
// alone.
func (e *Engine) Resume(id uuid.UUID) error {
	d, err := e.GetDownload(id)
	if err != nil {
		return err
	}

	if !d.CompareAndSetState(common.StatePaused, common.StateQueued) &&
		!d.CompareAndSetState(common.StateFailed, common.StateQueued) &&
		!d.CompareAndSetState(common.StatePending, common.StateQueued) {
		logger.Debugf("Download %s is %s, nothing to resume", id, d.GetState())
		return nil
	}

	d.SetError(nil)
	if err := e.save(d); err != nil {
		logger.Errorf("Failed to save download %s: %v", id, err)
	}
	e.emit(status.KindResume, d)
	e.queueProcessor.Enqueue(id)

	logger.Infof("Download %s resumed", id)
	return nil
}

// Suspend pauses a queued or active download. It returns once the transfer
// has stopped.
func (e *Engine) Suspend(id uuid.UUID) error {
	d, err := e.GetDownload(id)
	if err != nil {
		return err
	}

	switch d.GetState() {
	case common.StateQueued, common.StateActive:
	default:
		logger.Debugf("Download %s is %s, nothing to suspend", id, d.GetState())
		return nil
	}

	e.queueProcessor.Remove(id)
	if !d.Stop(common.StatePaused) {
		return nil
	}

	if err := e.save(d); err != nil {
		logger.Errorf("Failed to save download %s: %v", id, err)
	}
	e.emit(status.KindStop, d)

	logger.Infof("Download %s paused at %s", id, humanize.IBytes(uint64(d.GetDownloaded())))
	return nil
}

// Cancel stops a download and deletes its record. The partial file is
// deleted too; the file of a completed download is kept.
func (e *Engine) Cancel(id uuid.UUID) error {
	d, err := e.GetDownload(id)
	if err != nil {
		return err
	}

	e.queueProcessor.Remove(id)
	if d.Stop(common.StateCancelled) {
		e.emit(status.KindCancel, d)
	}

	removeFile := d.GetState() != common.StateCompleted
	if err := e.deleteDownload(d, removeFile); err != nil {
		return err
	}

	logger.Infof("Download %s cancelled", id)
	return nil
}

// Remove stops a download and deletes its record. The file is deleted too
// when completely is set.
func (e *Engine) Remove(id uuid.UUID, completely bool) error {
	d, err := e.GetDownload(id)
	if err != nil {
		return err
	}

	e.queueProcessor.Remove(id)
	d.Stop(common.StateCancelled)

	if err := e.deleteDownload(d, completely); err != nil {
		return err
	}

	logger.Infof("Download %s removed (completely: %v)", id, completely)
	return nil
}

// RemoveAll removes every download. Failures do not stop the others and are
// returned joined.
func (e *Engine) RemoveAll(completely bool) error {
	e.mu.RLock()
	ids := make([]uuid.UUID, 0, len(e.downloads))
	for id := range e.downloads {
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(max(e.config.MaxConcurrentDownloads, 1))

	for _, id := range ids {
		g.Go(func() error {
			if err := e.Remove(id, completely); err != nil && !errors.Is(err, ErrDownloadNotFound) {
				mu.Lock()
				errs = append(errs, fmt.Errorf("remove %s: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	logger.Infof("Removed %d download(s), %d failed", len(ids)-len(errs), len(errs))
	return errors.Join(errs...)
}

func (e *Engine) deleteDownload(d *downloader.Download, removeFile bool) error {
	if e.repository != nil {
		if err := e.repository.Delete(d.ID); err != nil {
			return fmt.Errorf("failed to delete download from repository: %w", err)
		}
	}

	e.mu.Lock()
	delete(e.downloads, d.ID)
	e.mu.Unlock()

	if removeFile && d.FilePath != "" {
		if err := os.Remove(d.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove file: %w", err)
		}
	}

	return nil
}

// ListTasks returns a snapshot of every download, oldest first.
func (e *Engine) ListTasks() []status.Task {
	e.mu.RLock()
	downloads := e.sortedLocked()
	e.mu.RUnlock()

	tasks := make([]status.Task, 0, len(downloads))
	for _, d := range downloads {
		tasks = append(tasks, d.Snapshot())
	}
	return tasks
}

func (e *Engine) sortedLocked() []*downloader.Download {
	downloads := make([]*downloader.Download, 0, len(e.downloads))
	for _, d := range e.downloads {
		downloads = append(downloads, d)
	}
	sort.Slice(downloads, func(i, j int) bool {
		return downloads[i].CreatedAt.Before(downloads[j].CreatedAt)
	})
	return downloads
}

// Subscribe registers fn for every task event. fn is called on engine
// goroutines and must not block.
func (e *Engine) Subscribe(fn func(status.Event)) (unsubscribe func()) {
	e.listenersMu.Lock()
	id := e.nextListener
	e.nextListener++
	e.listeners[id] = fn
	e.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.listenersMu.Lock()
			delete(e.listeners, id)
			e.listenersMu.Unlock()
		})
	}
}

func (e *Engine) emit(kind status.Kind, d *downloader.Download) {
	ev := status.Event{Kind: kind, Task: d.Snapshot()}

	e.listenersMu.Lock()
	fns := make([]func(status.Event), 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	e.listenersMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// GetGlobalStats returns global download statistics.
func (e *Engine) GetGlobalStats() common.GlobalStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := common.GlobalStats{
		MaxConcurrent: e.config.MaxConcurrentDownloads,
	}

	for _, d := range e.downloads {
		switch d.GetState() {
		case common.StateActive:
			stats.ActiveDownloads++
			stats.CurrentSpeed += d.Speed()
		case common.StateQueued:
			stats.QueuedDownloads++
		case common.StateCompleted:
			stats.CompletedDownloads++
		case common.StateFailed, common.StateCancelled:
			stats.FailedDownloads++
		case common.StatePaused:
			stats.PausedDownloads++
		}

		stats.TotalDownloaded += d.GetDownloaded()
	}

	return stats
}

// Shutdown pauses active downloads, stops the queue and closes the
// repository.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		logger.Debugf("Engine not running, skipping shutdown")
		return nil
	}
	e.running = false
	downloads := e.sortedLocked()
	e.mu.Unlock()

	logger.Infof("Starting engine shutdown...")

	close(e.stopCh)

	for _, d := range downloads {
		if d.GetState() == common.StateActive && d.Stop(common.StatePaused) {
			e.emit(status.KindStop, d)
		}
	}

	e.cancelFunc()

	waitChan := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(waitChan)
	}()

	select {
	case <-waitChan:
	case <-time.After(30 * time.Second):
		logger.Warnf("Shutdown timed out, some transfers may not have stopped")
	}

	for _, d := range downloads {
		if err := e.save(d); err != nil {
			logger.Errorf("Failed to save download %s: %v", d.ID, err)
		}
	}

	if err := e.client.Cleanup(); err != nil {
		logger.Warnf("Failed to clean up HTTP client: %v", err)
	}

	if e.repository != nil {
		if err := e.repository.Close(); err != nil {
			return fmt.Errorf("failed to close repository: %w", err)
		}
	}

	logger.Infof("Engine shutdown complete")
	return nil
}

func (e *Engine) save(d *downloader.Download) error {
	if e.repository == nil {
		return nil
	}
	return e.repository.Save(d)
}
