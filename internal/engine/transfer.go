package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/NamanBalaji/nativedl/internal/common"
	"github.com/NamanBalaji/nativedl/internal/downloader"
	"github.com/NamanBalaji/nativedl/internal/logger"
	"github.com/NamanBalaji/nativedl/internal/status"
	httpProtocol "github.com/NamanBalaji/nativedl/pkg/protocol/http"
)

const copyBufferSize = 32 * 1024

// runDownload is the queue's start function. It runs one download to its
// end and returns when the transfer stops for any reason.
func (e *Engine) runDownload(id uuid.UUID) error {
	e.mu.RLock()
	d, ok := e.downloads[id]
	if !e.running || !ok {
		e.mu.RUnlock()
		return nil
	}
	e.wg.Add(1)
	e.mu.RUnlock()
	defer e.wg.Done()

	ctx, ok := d.Begin(e.ctx)
	if !ok {
		logger.Debugf("Download %s left the queue before starting", id)
		return nil
	}
	defer d.End()

	e.emit(status.KindStart, d)
	if err := e.save(d); err != nil {
		logger.Errorf("Failed to save download %s: %v", id, err)
	}

	err := e.transfer(ctx, d)
	switch {
	case err == nil:
		if d.Finish(common.StateCompleted) {
			logger.Infof("Download %s completed (%s)", id, humanize.IBytes(uint64(d.GetDownloaded())))
			e.emit(status.KindComplete, d)
		}
	case ctx.Err() != nil:
		// Stopped by Suspend, Cancel or Shutdown; the caller reports it.
		return nil
	default:
		d.SetError(err)
		if d.Finish(common.StateFailed) {
			logger.Errorf("Download %s failed: %v", id, err)
			e.emit(status.KindFail, d)
		}
	}

	if err := e.save(d); err != nil {
		logger.Errorf("Failed to save download %s: %v", id, err)
	}

	return nil
}

// transfer fetches d, retrying with backoff on retryable errors.
func (e *Engine) transfer(ctx context.Context, d *downloader.Download) error {
	var err error
	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := calculateBackoff(attempt-1, e.config.RetryDelay)
			logger.Warnf("Retrying download %s in %v (attempt %d/%d): %v", d.ID, delay, attempt, e.config.MaxRetries, err)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err = e.fetch(ctx, d)
		if err == nil || ctx.Err() != nil || !httpProtocol.IsRetryable(err) {
			return err
		}
	}

	return err
}

// fetch performs one GET of d, continuing from the bytes already on disk
// when the server supports ranges.
func (e *Engine) fetch(ctx context.Context, d *downloader.Download) error {
	if d.GetTotalSize() <= 0 {
		info, err := e.client.Probe(ctx, d.URL)
		if err != nil {
			return err
		}
		if info.Size > 0 {
			d.SetTotalSize(info.Size)
		}
		d.SetResumable(info.Resumable)
	}

	if err := os.MkdirAll(filepath.Dir(d.FilePath), 0o755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	var offset int64
	if d.IsResumable() {
		if fi, err := os.Stat(d.FilePath); err == nil {
			offset = fi.Size()
		}
	}

	if total := d.GetTotalSize(); total > 0 && offset >= total {
		d.SetDownloaded(total)
		return nil
	}

	body, partial, err := e.client.Open(ctx, d.URL, offset)
	if err != nil {
		return err
	}
	defer body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	if partial {
		flags |= os.O_APPEND
	} else {
		offset = 0
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(d.FilePath, flags, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	d.SetDownloaded(offset)
	if offset > 0 {
		logger.Debugf("Resuming download %s at %s", d.ID, humanize.IBytes(uint64(offset)))
	}

	if err := e.copyBody(ctx, d, f, body); err != nil {
		return err
	}

	total := d.GetTotalSize()
	switch {
	case total <= 0:
		d.SetTotalSize(d.GetDownloaded())
	case d.GetDownloaded() < total:
		return fmt.Errorf("got %d of %d bytes: %w", d.GetDownloaded(), total, io.ErrUnexpectedEOF)
	}

	return f.Sync()
}

func (e *Engine) copyBody(ctx context.Context, d *downloader.Download, w io.Writer, r io.Reader) error {
	bufSize := copyBufferSize
	if e.limiter != nil && e.limiter.Burst() < bufSize {
		bufSize = e.limiter.Burst()
	}
	buf := make([]byte, bufSize)

	lastEmit := time.Now()
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			if e.limiter != nil {
				if err := e.limiter.WaitN(ctx, n); err != nil {
					return err
				}
			}
			if _, err := w.Write(buf[:n]); err != nil {
				return fmt.Errorf("failed to write file: %w", err)
			}
			d.AddProgress(int64(n))

			if time.Since(lastEmit) >= e.config.ProgressInterval {
				lastEmit = time.Now()
				e.emit(status.KindRunning, d)
			}
		}

		if errors.Is(readErr, io.EOF) {
			return nil
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return httpProtocol.NewHTTPNetworkError("GET", d.URL, readErr)
		}
	}
}
