package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-auditor/internal/audit"
	"github.com/JakeFAU/site-auditor/internal/config"
	"github.com/JakeFAU/site-auditor/internal/dispatcher"
	"github.com/JakeFAU/site-auditor/internal/queue/memory"
	"github.com/JakeFAU/site-auditor/internal/worker"
)

func TestServer_SubmitAudit_Succeeds(t *testing.T) {
	t.Parallel()

	submitter := &fakeSubmitter{id: "0190b8a0-0000-7000-8000-000000000001"}
	server := NewServer(submitter, newFakeReader(), config.Config{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/v1/audits", bytes.NewBufferString(`{"url":"https://example.com"}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, submitter.id, body["audit_id"])
	require.Equal(t, []string{"https://example.com"}, submitter.urls())
}

func TestServer_SubmitAudit_InvalidJSON(t *testing.T) {
	t.Parallel()

	submitter := &fakeSubmitter{}
	server := NewServer(submitter, newFakeReader(), config.Config{}, zap.NewNop())
	req := httptest.NewRequest(http.MethodPost, "/v1/audits", bytes.NewBufferString("{invalid"))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, submitter.urls())
}

func TestServer_SubmitAudit_InvalidURL(t *testing.T) {
	t.Parallel()

	for _, body := range []string{`{"url":"not a url"}`, `{}`, ``, `{"url":"mailto:a@b.c"}`} {
		submitter := &fakeSubmitter{}
		server := NewServer(submitter, newFakeReader(), config.Config{}, zap.NewNop())
		req := httptest.NewRequest(http.MethodPost, "/v1/audits", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()

		server.Handler().ServeHTTP(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code, body)
		require.Contains(t, rec.Body.String(), "Invalid URL provided")
		require.Empty(t, submitter.urls())
	}
}

func TestServer_SubmitAudit_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{
			name:    "fetch failure",
			err:     audit.FetchFailed("https://example.com", errors.New("dial tcp: refused")),
			status:  http.StatusBadGateway,
			message: "Failed to fetch content from https://example.com.",
		},
		{
			name:    "create failure",
			err:     audit.NewError(audit.ErrRepository, audit.MsgCreateFailed, errors.New("pg down")),
			status:  http.StatusInternalServerError,
			message: audit.MsgCreateFailed,
		},
		{
			name:    "unexpected",
			err:     audit.NewError(audit.ErrUnexpected, audit.MsgUnexpected, errors.New("disk full")),
			status:  http.StatusInternalServerError,
			message: audit.MsgUnexpected,
		},
		{
			name:    "queue full",
			err:     fmt.Errorf("%w: %w", dispatcher.ErrUnavailable, memory.ErrFull),
			status:  http.StatusServiceUnavailable,
			message: msgBusy,
		},
		{
			name:    "abandoned",
			err:     worker.ErrAbandoned,
			status:  http.StatusServiceUnavailable,
			message: msgCanceled,
		},
		{
			name:    "caller gone",
			err:     fmt.Errorf("await audit: %w", context.Canceled),
			status:  http.StatusServiceUnavailable,
			message: msgCanceled,
		},
		{
			name:    "unknown",
			err:     errors.New("secret internal detail"),
			status:  http.StatusInternalServerError,
			message: audit.MsgUnexpected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := NewServer(&fakeSubmitter{err: tt.err}, newFakeReader(), config.Config{}, zap.NewNop())
			req := httptest.NewRequest(http.MethodPost, "/v1/audits", bytes.NewBufferString(`{"url":"https://example.com"}`))
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, req)

			require.Equal(t, tt.status, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, tt.message, body["error"])
			require.NotContains(t, rec.Body.String(), "disk full")
			require.NotContains(t, rec.Body.String(), "secret internal detail")
		})
	}
}

func TestServer_SubmitAudit_WithDispatcher(t *testing.T) {
	t.Parallel()

	d := dispatcher.NewPool(&fakeSubmitterRunner{id: "0190b8a0-0000-7000-8000-000000000002"}, 1, 1, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	server := NewServer(d, newFakeReader(), config.Config{}, zap.NewNop())
	req := httptest.NewRequest(http.MethodPost, "/v1/audits", bytes.NewBufferString(`{"url":"https://example.com"}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), "0190b8a0-0000-7000-8000-000000000002")
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}
	server := NewServer(&fakeSubmitter{id: "id"}, newFakeReader(), cfg, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/audits", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/audits", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/audits?api_key=secret", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Probes stay open.
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	ok := NewServer(&fakeSubmitter{}, newFakeReader(), config.Config{}, zap.NewNop(),
		func(context.Context) error { return nil },
	)
	rec := httptest.NewRecorder()
	ok.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	failing := NewServer(&fakeSubmitter{}, newFakeReader(), config.Config{}, zap.NewNop(),
		func(context.Context) error { return nil },
		func(context.Context) error { return errors.New("db down") },
	)
	rec = httptest.NewRecorder()
	failing.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NotContains(t, rec.Body.String(), "db down")
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeSubmitter{}, newFakeReader(), config.Config{}, zap.NewNop())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServer_RecoversPanics(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeSubmitter{panicMsg: "boom"}, newFakeReader(), config.Config{}, zap.NewNop())
	req := httptest.NewRequest(http.MethodPost, "/v1/audits", bytes.NewBufferString(`{"url":"https://example.com"}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "internal server error")
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeSubmitter{}, newFakeReader(), config.Config{}, zap.NewNop())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	const incoming = "5f0c4a4e-8f8e-4f6b-9a51-2d6f0e3b7c11"
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", incoming)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, incoming, rec.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "not-a-uuid\nInjected: yes")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.False(t, strings.Contains(rec.Header().Get("X-Request-ID"), "Injected"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

type fakeSubmitter struct {
	mu       sync.Mutex
	id       string
	err      error
	panicMsg string
	seen     []string
}

func (f *fakeSubmitter) Submit(_ context.Context, rawURL string) (string, error) {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, rawURL)
	if f.err != nil {
		return "", f.err
	}
	return f.id, nil
}

func (f *fakeSubmitter) urls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}

type fakeSubmitterRunner struct {
	id string
}

func (f *fakeSubmitterRunner) StartAudit(context.Context, string) (string, error) {
	return f.id, nil
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
