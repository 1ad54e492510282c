package bridge_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NamanBalaji/nativedl/internal/bridge"
	"github.com/NamanBalaji/nativedl/internal/engine"
	"github.com/NamanBalaji/nativedl/internal/registry"
	"github.com/NamanBalaji/nativedl/internal/status"
)

type wireError struct {
	Code string `json:"code"`
}

type message struct {
	ID        int64           `json:"id"`
	Method    string          `json:"method"`
	Result    json.RawMessage `json:"result"`
	Error     *wireError      `json:"error"`
	Arguments status.Update   `json:"arguments"`
}

// host plays the embedding application on the other end of the pipes.
type host struct {
	t      *testing.T
	in     io.WriteCloser
	nextID int64

	replies chan message
	pushes  chan status.Update
}

func (h *host) call(method string, args any) message {
	h.t.Helper()
	h.nextID++
	raw, err := json.Marshal(map[string]any{"id": h.nextID, "method": method, "arguments": args})
	require.NoError(h.t, err)
	_, err = h.in.Write(append(raw, '\n'))
	require.NoError(h.t, err)

	select {
	case m := <-h.replies:
		require.Equal(h.t, h.nextID, m.ID)
		return m
	case <-time.After(5 * time.Second):
		h.t.Fatalf("no reply to %s", method)
		return message{}
	}
}

// waitFor reads pushes until one for url reaches want.
func (h *host) waitFor(url string, want status.Status) status.Update {
	h.t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case u := <-h.pushes:
			if u.URL == url && u.Status == want {
				return u
			}
		case <-deadline:
			h.t.Fatalf("%s never reached %s", url, want)
			return status.Update{}
		}
	}
}

func startBridge(t *testing.T, rootDir string) *host {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	cfg := engine.DefaultConfig()
	cfg.RetryDelay = 10 * time.Millisecond
	cfg.ProgressInterval = 10 * time.Millisecond
	eng := engine.New(cfg, nil, nil)
	require.NoError(t, eng.Init())

	reg := registry.New(eng, rootDir)
	go reg.Run(ctx)

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	srv := bridge.NewServer(inR, outW)
	handler := bridge.NewHandler(reg, srv)

	dispatcher := registry.NewDispatcher(reg, handler.PushUpdate)
	detach := dispatcher.Attach()
	go dispatcher.Run(ctx)

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, handler) }()

	h := &host{
		t:       t,
		in:      inW,
		replies: make(chan message, 16),
		pushes:  make(chan status.Update, 1024),
	}

	go func() {
		scanner := bufio.NewScanner(outR)
		for scanner.Scan() {
			var m message
			if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
				continue
			}
			if m.Method == bridge.MethodTaskDidUpdate {
				select {
				case h.pushes <- m.Arguments:
				default:
				}
				continue
			}
			h.replies <- m
		}
	}()

	t.Cleanup(func() {
		detach()
		_ = inW.Close()
		<-served
		cancel()
		_ = eng.Shutdown()
		_ = outW.Close()
	})

	return h
}

func newServer(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "file.bin", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBridgeDownloadLifecycle(t *testing.T) {
	data := bytes.Repeat([]byte("nativedl"), 4096)
	srv := newServer(t, data)
	root := t.TempDir()
	h := startBridge(t, root)

	url := srv.URL + "/files/archive.bin"

	m := h.call("download", map[string]string{"url": url, "fileName": "copy.bin"})
	require.Nil(t, m.Error)
	assert.JSONEq(t, "true", string(m.Result))

	done := h.waitFor(url, status.StatusCompleted)
	assert.Equal(t, int64(len(data)), done.TotalBytes)
	assert.Equal(t, int64(len(data)), done.CompletedBytes)

	m = h.call("exists", map[string]string{"url": url})
	assert.JSONEq(t, "true", string(m.Result))

	m = h.call("getTaskFilePath", map[string]string{"url": url})
	var path string
	require.NoError(t, json.Unmarshal(m.Result, &path))
	assert.Equal(t, filepath.Join(root, "copy.bin"), path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	m = h.call("syncStatus", nil)
	assert.JSONEq(t, "null", string(m.Result))
	synced := h.waitFor(url, status.StatusCompleted)
	assert.Equal(t, done.CompletedBytes, synced.CompletedBytes)

	m = h.call("remove", map[string]any{"url": url, "completely": true})
	require.Nil(t, m.Error)

	m = h.call("exists", map[string]string{"url": url})
	assert.JSONEq(t, "false", string(m.Result))
	assert.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBridgeUnknownTaskAndMethod(t *testing.T) {
	h := startBridge(t, t.TempDir())

	for _, method := range []string{"start", "suspend", "cancel"} {
		m := h.call(method, map[string]string{"url": "https://x.test/none"})
		assert.Nil(t, m.Error, method)
		assert.JSONEq(t, "null", string(m.Result), method)
	}

	m := h.call("getTaskFilePath", map[string]string{"url": "https://x.test/none"})
	assert.JSONEq(t, "null", string(m.Result))

	m = h.call("pauseAll", nil)
	require.NotNil(t, m.Error)
	assert.Equal(t, bridge.CodeNotImplemented, m.Error.Code)

	m = h.call("download", map[string]string{"url": ""})
	assert.JSONEq(t, "false", string(m.Result))
}

func TestBridgeMultiDownloadAndRemoveAll(t *testing.T) {
	data := bytes.Repeat([]byte{0xab}, 8192)
	srv := newServer(t, data)
	root := t.TempDir()
	h := startBridge(t, root)

	urls := make([]string, 3)
	for i := range urls {
		urls[i] = fmt.Sprintf("%s/f%d.bin", srv.URL, i)
	}

	m := h.call("multiDownload", map[string]any{"urls": urls})
	assert.JSONEq(t, "true", string(m.Result))

	for _, url := range urls {
		h.waitFor(url, status.StatusCompleted)
	}

	m = h.call("removeAll", map[string]bool{"completely": false})
	require.Nil(t, m.Error)

	for i, url := range urls {
		m = h.call("exists", map[string]string{"url": url})
		assert.JSONEq(t, "false", string(m.Result))

		_, err := os.Stat(filepath.Join(root, fmt.Sprintf("f%d.bin", i)))
		assert.NoError(t, err, "file kept without completely")
	}
}
