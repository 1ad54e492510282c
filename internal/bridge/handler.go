// Package bridge exposes the task registry to a host application as a set of
// named method calls and pushes task status back to it.
package bridge

import (
	"context"
	"errors"

	"github.com/NamanBalaji/nativedl/internal/logger"
	"github.com/NamanBalaji/nativedl/internal/registry"
	"github.com/NamanBalaji/nativedl/internal/status"
)

// MethodTaskDidUpdate is the push message carrying one status update.
const MethodTaskDidUpdate = "taskDidUpdate"

var (
	// ErrNotImplemented is returned for unknown methods.
	ErrNotImplemented = errors.New("not implemented")

	// ErrInvalidArguments is returned when call arguments cannot be decoded.
	ErrInvalidArguments = errors.New("invalid arguments")
)

// Registry is the part of registry.Registry the bridge drives.
type Registry interface {
	Create(ctx context.Context, url, fileName string) error
	CreateMany(ctx context.Context, urls, fileNames []string) (int, error)
	Resume(ctx context.Context, url string) error
	Suspend(ctx context.Context, url string) error
	Cancel(ctx context.Context, url string) error
	Remove(ctx context.Context, url string, completely bool) error
	RemoveAll(ctx context.Context, completely bool) error
	Exists(ctx context.Context, url string) bool
	FilePath(ctx context.Context, url string) (string, bool)
	Snapshot(ctx context.Context) []status.Update
}

// Pusher delivers outbound messages to the host.
type Pusher interface {
	Push(method string, arguments any) error
}

// Handler maps method calls onto the registry.
type Handler struct {
	registry Registry
	pusher   Pusher
}

func NewHandler(reg Registry, pusher Pusher) *Handler {
	return &Handler{registry: reg, pusher: pusher}
}

// Handle runs one method call and returns its result. Rejected commands are
// reported through the result (false, or a nil ack), not as errors; errors
// are reserved for unknown methods, undecodable arguments and a stopped
// registry.
func (h *Handler) Handle(ctx context.Context, call MethodCall) (any, error) {
	switch call.Method {
	case "download":
		var args downloadArgs
		if err := call.Decode(&args); err != nil {
			return nil, err
		}
		if err := h.registry.Create(ctx, args.URL, args.FileName); err != nil {
			return false, rejected(call.Method, args.URL, err)
		}
		return true, nil

	case "multiDownload":
		var args multiDownloadArgs
		if err := call.Decode(&args); err != nil {
			return nil, err
		}
		n, err := h.registry.CreateMany(ctx, args.URLs, args.FileNames)
		if err != nil && n == 0 {
			return false, rejected(call.Method, "", err)
		}
		if err != nil {
			logger.Warnf("multiDownload created %d of %d tasks: %v", n, len(args.URLs), err)
		}
		return n > 0, nil

	case "start", "suspend", "cancel":
		var args urlArgs
		if err := call.Decode(&args); err != nil {
			return nil, err
		}
		return nil, h.control(ctx, call.Method, args.URL)

	case "remove":
		var args removeArgs
		if err := call.Decode(&args); err != nil {
			return nil, err
		}
		return nil, ack(call.Method, args.URL, h.registry.Remove(ctx, args.URL, args.Completely))

	case "removeAll":
		var args removeAllArgs
		if err := call.Decode(&args); err != nil {
			return nil, err
		}
		return nil, ack(call.Method, "", h.registry.RemoveAll(ctx, args.Completely))

	case "exists":
		var args urlArgs
		if err := call.Decode(&args); err != nil {
			return nil, err
		}
		return h.registry.Exists(ctx, args.URL), nil

	case "getTaskFilePath":
		var args urlArgs
		if err := call.Decode(&args); err != nil {
			return nil, err
		}
		if path, ok := h.registry.FilePath(ctx, args.URL); ok {
			return path, nil
		}
		return nil, nil

	case "syncStatus":
		h.SyncStatus(ctx)
		return nil, nil

	default:
		logger.Debugf("Unknown method %q", call.Method)
		return nil, ErrNotImplemented
	}
}

func (h *Handler) control(ctx context.Context, method, url string) error {
	var err error
	switch method {
	case "start":
		err = h.registry.Resume(ctx, url)
	case "suspend":
		err = h.registry.Suspend(ctx, url)
	case "cancel":
		err = h.registry.Cancel(ctx, url)
	}
	return ack(method, url, err)
}

// SyncStatus pushes the current status of every task.
func (h *Handler) SyncStatus(ctx context.Context) {
	for _, u := range h.registry.Snapshot(ctx) {
		h.PushUpdate(u)
	}
}

// PushUpdate sends one status update to the host. It is the dispatcher sink.
func (h *Handler) PushUpdate(u status.Update) {
	if err := h.pusher.Push(MethodTaskDidUpdate, u); err != nil {
		logger.Warnf("Failed to push status of %s: %v", u.URL, err)
	}
}

// rejected logs a command the registry refused. Only a stopped registry is
// passed back as an error.
func rejected(method, url string, err error) error {
	if errors.Is(err, registry.ErrClosed) {
		return err
	}
	logger.Warnf("%s %s rejected: %v", method, url, err)
	return nil
}

// ack turns a control command result into a no-op acknowledgement.
func ack(method, url string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, registry.ErrTaskNotFound):
		logger.Debugf("%s %s: no such task", method, url)
		return nil
	default:
		return rejected(method, url, err)
	}
}
