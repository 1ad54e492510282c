package downloader

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/NamanBalaji/nativedl/internal/common"
	"github.com/NamanBalaji/nativedl/internal/status"
)

// Download represents a single URL-to-file transfer owned by the engine.
type Download struct {
	ID        uuid.UUID
	URL       string
	FilePath  string
	CreatedAt time.Time

	state      int32
	totalSize  int64
	downloaded int64
	resumable  atomic.Bool

	mu              sync.Mutex
	errorMessage    string
	endTime         time.Time
	cancelFunc      context.CancelFunc
	done            chan struct{}
	speedCalculator *SpeedCalculator
}

// record is the persisted form of a Download.
type record struct {
	ID           uuid.UUID    `json:"id"`
	URL          string       `json:"url"`
	FilePath     string       `json:"file_path"`
	State        common.State `json:"state"`
	TotalSize    int64        `json:"total_size"`
	Downloaded   int64        `json:"downloaded"`
	Resumable    bool         `json:"resumable"`
	CreatedAt    time.Time    `json:"created_at"`
	EndTime      time.Time    `json:"end_time,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
}

// NewDownload creates a pending download of url into filePath.
func NewDownload(url, filePath string) *Download {
	return &Download{
		ID:              uuid.New(),
		URL:             url,
		FilePath:        filePath,
		CreatedAt:       time.Now(),
		state:           int32(common.StatePending),
		speedCalculator: NewSpeedCalculator(5),
	}
}

// SetState sets the State of a Download.
func (d *Download) SetState(state common.State) {
	atomic.StoreInt32(&d.state, int32(state))
	if state.IsTerminal() {
		d.mu.Lock()
		d.endTime = time.Now()
		d.mu.Unlock()
	}
}

// GetState returns the current State of the Download.
func (d *Download) GetState() common.State {
	return common.State(atomic.LoadInt32(&d.state))
}

// CompareAndSetState moves the download from old to state if it is still in old.
func (d *Download) CompareAndSetState(old, state common.State) bool {
	return atomic.CompareAndSwapInt32(&d.state, int32(old), int32(state))
}

// GetTotalSize returns the total size of the Download, or zero if unknown.
func (d *Download) GetTotalSize() int64 {
	return atomic.LoadInt64(&d.totalSize)
}

func (d *Download) SetTotalSize(size int64) {
	atomic.StoreInt64(&d.totalSize, size)
}

// GetDownloaded returns the number of bytes downloaded.
func (d *Download) GetDownloaded() int64 {
	return atomic.LoadInt64(&d.downloaded)
}

func (d *Download) SetDownloaded(n int64) {
	atomic.StoreInt64(&d.downloaded, n)
}

// AddProgress adds n transferred bytes.
func (d *Download) AddProgress(n int64) {
	atomic.AddInt64(&d.downloaded, n)
	d.speed().AddBytes(n)
}

func (d *Download) SetResumable(v bool) { d.resumable.Store(v) }

func (d *Download) IsResumable() bool { return d.resumable.Load() }

// Speed returns the current transfer speed in bytes per second.
func (d *Download) Speed() int64 {
	if d.GetState() != common.StateActive {
		return 0
	}
	return d.speed().GetSpeed()
}

func (d *Download) speed() *SpeedCalculator {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.speedCalculator == nil {
		d.speedCalculator = NewSpeedCalculator(5)
	}
	return d.speedCalculator
}

func (d *Download) SetError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		d.errorMessage = ""
		return
	}
	d.errorMessage = err.Error()
}

func (d *Download) ErrorMessage() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.errorMessage
}

// Begin moves a queued download to active and returns the context the
// transfer runs under. ok is false if the download left the queued state
// first. End must be called when the transfer returns.
func (d *Download) Begin(parent context.Context) (ctx context.Context, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.CompareAndSetState(common.StateQueued, common.StateActive) {
		return nil, false
	}

	ctx, cancel := context.WithCancel(parent)
	d.cancelFunc = cancel
	d.done = make(chan struct{})
	if d.speedCalculator == nil {
		d.speedCalculator = NewSpeedCalculator(5)
	}
	d.speedCalculator.Reset()

	return ctx, true
}

// Finish moves an active download to state. It reports false if the
// download was stopped before the transfer returned.
func (d *Download) Finish(state common.State) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.CompareAndSetState(common.StateActive, state) {
		return false
	}
	if state.IsTerminal() {
		d.endTime = time.Now()
	}
	return true
}

// End releases the transfer started by Begin.
func (d *Download) End() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancelFunc != nil {
		d.cancelFunc()
		d.cancelFunc = nil
	}
	if d.done != nil {
		close(d.done)
		d.done = nil
	}
}

// Stop moves a non-terminal download to state, interrupts its transfer if
// one is running and waits for the transfer to return. It reports false,
// and changes nothing, if the download had already reached a terminal state.
func (d *Download) Stop(state common.State) bool {
	d.mu.Lock()
	if d.GetState().IsTerminal() {
		d.mu.Unlock()
		return false
	}
	atomic.StoreInt32(&d.state, int32(state))
	if state.IsTerminal() {
		d.endTime = time.Now()
	}
	cancel, done := d.cancelFunc, d.done
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	return true
}

// Snapshot reports the download in the engine-neutral form.
func (d *Download) Snapshot() status.Task {
	return status.Task{
		ID:             d.ID,
		URL:            d.URL,
		FilePath:       d.FilePath,
		TotalBytes:     d.GetTotalSize(),
		CompletedBytes: d.GetDownloaded(),
		Speed:          d.Speed(),
		State:          d.GetState(),
	}
}

// MarshalJSON encodes the persisted fields of the download.
func (d *Download) MarshalJSON() ([]byte, error) {
	d.mu.Lock()
	endTime, errMsg := d.endTime, d.errorMessage
	d.mu.Unlock()

	return json.Marshal(record{
		ID:           d.ID,
		URL:          d.URL,
		FilePath:     d.FilePath,
		State:        d.GetState(),
		TotalSize:    d.GetTotalSize(),
		Downloaded:   d.GetDownloaded(),
		Resumable:    d.IsResumable(),
		CreatedAt:    d.CreatedAt,
		EndTime:      endTime,
		ErrorMessage: errMsg,
	})
}

// UnmarshalJSON restores a download from its persisted form. Runtime fields
// start empty.
func (d *Download) UnmarshalJSON(b []byte) error {
	var r record
	if err := json.Unmarshal(b, &r); err != nil {
		return err
	}

	d.ID = r.ID
	d.URL = r.URL
	d.FilePath = r.FilePath
	d.CreatedAt = r.CreatedAt
	d.state = int32(r.State)
	d.totalSize = r.TotalSize
	d.downloaded = r.Downloaded
	d.resumable.Store(r.Resumable)
	d.endTime = r.EndTime
	d.errorMessage = r.ErrorMessage
	d.speedCalculator = NewSpeedCalculator(5)

	return nil
}
