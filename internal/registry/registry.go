// Package registry tracks the download tasks known to the bridge, keyed by
// URL, and mirrors the status the engine reports for them.
//
// A single goroutine owns the task map. Caller commands and engine events are
// both turned into closures executed by that goroutine, so a remove can never
// interleave with a half-applied progress event.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/NamanBalaji/nativedl/internal/logger"
	"github.com/NamanBalaji/nativedl/internal/resolver"
	"github.com/NamanBalaji/nativedl/internal/status"
)

var (
	// ErrTaskNotFound is returned when no task is registered for a URL.
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidURL is returned for an empty URL.
	ErrInvalidURL = errors.New("invalid URL")

	// ErrNothingCreated is returned by CreateMany when no task could be created.
	ErrNothingCreated = errors.New("no task created")

	// ErrClosed is returned once the registry has stopped.
	ErrClosed = errors.New("registry closed")
)

// Engine is the download engine the registry hands transfers to.
type Engine interface {
	Enqueue(url, filePath string) (uuid.UUID, error)
	Resume(id uuid.UUID) error
	Suspend(id uuid.UUID) error
	Cancel(id uuid.UUID) error
	Remove(id uuid.UUID, completely bool) error
	RemoveAll(completely bool) error
	ListTasks() []status.Task
	Subscribe(fn func(status.Event)) (unsubscribe func())
}

// task is the registry's view of one download.
type task struct {
	id       uuid.UUID
	url      string
	filePath string
	total    int64
	done     int64
	speed    int64
	status   status.Status
}

func (t *task) update() status.Update {
	return status.Update{
		URL:            t.url,
		TotalBytes:     t.total,
		CompletedBytes: t.done,
		Speed:          t.speed,
		Status:         t.status,
	}
}

// Registry is the set of known download tasks.
type Registry struct {
	engine  Engine
	rootDir string

	ops  chan func(map[string]*task)
	done chan struct{}
}

// New creates a registry that stores files under rootDir. Run must be called
// before any other method.
func New(engine Engine, rootDir string) *Registry {
	return &Registry{
		engine:  engine,
		rootDir: rootDir,
		ops:     make(chan func(map[string]*task)),
		done:    make(chan struct{}),
	}
}

// Run executes registry operations until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	defer close(r.done)

	tasks := make(map[string]*task)
	for {
		select {
		case <-ctx.Done():
			logger.Debugf("Registry stopped with %d task(s)", len(tasks))
			return
		case op := <-r.ops:
			op(tasks)
		}
	}
}

// do runs fn on the registry goroutine and waits for it to finish.
func (r *Registry) do(ctx context.Context, fn func(map[string]*task)) error {
	finished := make(chan struct{})
	op := func(tasks map[string]*task) {
		defer close(finished)
		fn(tasks)
	}

	select {
	case r.ops <- op:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrClosed
	}

	<-finished
	return nil
}

// Create registers a task for url and hands it to the engine. The file name
// is derived from url when fileName is empty. Creating a task for a URL that
// is already registered is a no-op that succeeds.
func (r *Registry) Create(ctx context.Context, url, fileName string) error {
	if url == "" {
		return ErrInvalidURL
	}

	var err error
	opErr := r.do(ctx, func(tasks map[string]*task) {
		err = r.create(tasks, url, fileName)
	})
	if opErr != nil {
		return opErr
	}

	return err
}

func (r *Registry) create(tasks map[string]*task, url, fileName string) error {
	if _, ok := tasks[url]; ok {
		logger.Debugf("Task for %s already registered, skipping create", url)
		return nil
	}

	filePath := resolver.Resolve(url, fileName, r.rootDir)
	id, err := r.engine.Enqueue(url, filePath)
	if err != nil {
		logger.Warnf("Engine rejected %s: %v", url, err)
		return fmt.Errorf("failed to enqueue %s: %w", url, err)
	}

	tasks[url] = &task{
		id:       id,
		url:      url,
		filePath: filePath,
		status:   status.StatusIdle,
	}
	logger.Infof("Registered task %s for %s -> %s", id, url, filePath)

	return nil
}

// CreateMany creates one task per URL. fileNames pairs with urls by position;
// missing or empty entries fall back to the URL-derived name. It returns the
// number of tasks created and fails only if none could be created.
func (r *Registry) CreateMany(ctx context.Context, urls, fileNames []string) (int, error) {
	created := 0
	var errs []error
	for i, url := range urls {
		fileName := ""
		if i < len(fileNames) {
			fileName = fileNames[i]
		}

		if err := r.Create(ctx, url, fileName); err != nil {
			if errors.Is(err, ErrClosed) || ctx.Err() != nil {
				return created, err
			}
			errs = append(errs, err)
			continue
		}
		created++
	}

	if created == 0 {
		return 0, errors.Join(append([]error{ErrNothingCreated}, errs...)...)
	}

	if len(errs) > 0 {
		logger.Warnf("Created %d of %d tasks: %v", created, len(urls), errors.Join(errs...))
	}

	return created, nil
}

// control looks up url and runs fn with its engine id on the registry goroutine.
func (r *Registry) control(ctx context.Context, url string, fn func(tasks map[string]*task, t *task) error) error {
	var err error
	opErr := r.do(ctx, func(tasks map[string]*task) {
		t, ok := tasks[url]
		if !ok {
			err = ErrTaskNotFound
			return
		}
		err = fn(tasks, t)
	})
	if opErr != nil {
		return opErr
	}

	return err
}

// Resume asks the engine to start or continue the task for url.
func (r *Registry) Resume(ctx context.Context, url string) error {
	return r.control(ctx, url, func(_ map[string]*task, t *task) error {
		return r.engine.Resume(t.id)
	})
}

// Suspend asks the engine to pause the task for url.
func (r *Registry) Suspend(ctx context.Context, url string) error {
	return r.control(ctx, url, func(_ map[string]*task, t *task) error {
		return r.engine.Suspend(t.id)
	})
}

// Cancel stops the task for url and forgets it. Events the engine raises for
// it afterwards are ignored. A task the engine failed to cancel stays
// registered.
func (r *Registry) Cancel(ctx context.Context, url string) error {
	return r.control(ctx, url, func(tasks map[string]*task, t *task) error {
		err := r.engine.Cancel(t.id)
		r.forget(tasks, t, err)
		if err != nil {
			return fmt.Errorf("failed to cancel %s: %w", url, err)
		}
		return nil
	})
}

// Remove drops the task for url from the registry and the engine. With
// completely set the downloaded file is deleted as well. A task the engine
// failed to remove stays registered.
func (r *Registry) Remove(ctx context.Context, url string, completely bool) error {
	return r.control(ctx, url, func(tasks map[string]*task, t *task) error {
		err := r.engine.Remove(t.id, completely)
		r.forget(tasks, t, err)
		if err != nil {
			return fmt.Errorf("failed to remove %s: %w", url, err)
		}
		return nil
	})
}

// forget drops t after the engine was asked to let go of it, unless the
// engine reported err and still holds the task.
func (r *Registry) forget(tasks map[string]*task, t *task, err error) {
	if err != nil {
		for _, et := range r.engine.ListTasks() {
			if et.ID == t.id {
				return
			}
		}
	}
	delete(tasks, t.url)
}

// RemoveAll drops every task. Tasks the engine failed to remove stay
// registered.
func (r *Registry) RemoveAll(ctx context.Context, completely bool) error {
	var err error
	opErr := r.do(ctx, func(tasks map[string]*task) {
		err = r.engine.RemoveAll(completely)

		remaining := make(map[uuid.UUID]bool)
		if err != nil {
			for _, et := range r.engine.ListTasks() {
				remaining[et.ID] = true
			}
		}

		for url, t := range tasks {
			if !remaining[t.id] {
				delete(tasks, url)
			}
		}
	})
	if opErr != nil {
		return opErr
	}

	return err
}

// Exists reports whether a task is registered for url.
func (r *Registry) Exists(ctx context.Context, url string) bool {
	var ok bool
	_ = r.do(ctx, func(tasks map[string]*task) {
		_, ok = tasks[url]
	})

	return ok
}

// FilePath returns the destination path of the task for url.
func (r *Registry) FilePath(ctx context.Context, url string) (string, bool) {
	var (
		path string
		ok   bool
	)
	_ = r.do(ctx, func(tasks map[string]*task) {
		var t *task
		if t, ok = tasks[url]; ok {
			path = t.filePath
		}
	})

	return path, ok
}

// Snapshot returns the current status of every task, ordered by URL.
func (r *Registry) Snapshot(ctx context.Context) []status.Update {
	var updates []status.Update
	_ = r.do(ctx, func(tasks map[string]*task) {
		updates = make([]status.Update, 0, len(tasks))
		for _, t := range tasks {
			updates = append(updates, t.update())
		}
	})

	sort.Slice(updates, func(i, j int) bool { return updates[i].URL < updates[j].URL })
	return updates
}

// Reattach registers every task the engine already knows about, such as
// transfers restored from a previous run. It is meant to be called once at
// startup and returns the number of tasks added.
func (r *Registry) Reattach(ctx context.Context) (int, error) {
	added := 0
	err := r.do(ctx, func(tasks map[string]*task) {
		for _, et := range r.engine.ListTasks() {
			if _, ok := tasks[et.URL]; ok {
				continue
			}
			t := &task{id: et.ID, url: et.URL, filePath: et.FilePath}
			t.apply(status.Normalize(et))
			tasks[et.URL] = t
			added++
		}
	})
	if err != nil {
		return 0, err
	}

	logger.Infof("Re-attached %d engine task(s)", added)
	return added, nil
}

// apply mirrors an engine update into t.
func (t *task) apply(u status.Update) {
	t.total = u.TotalBytes
	t.done = u.CompletedBytes
	t.speed = u.Speed
	t.status = u.Status
}

// applyEvent mirrors ev into the matching task. It reports false when the
// event belongs to no registered task.
func (r *Registry) applyEvent(ctx context.Context, ev status.Event) (status.Update, bool, error) {
	var (
		u  status.Update
		ok bool
	)
	err := r.do(ctx, func(tasks map[string]*task) {
		t, found := tasks[ev.Task.URL]
		if !found || t.id != ev.Task.ID {
			return
		}
		t.apply(status.Normalize(ev.Task))
		u, ok = t.update(), true
	})

	return u, ok, err
}
