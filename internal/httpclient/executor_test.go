package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/credpool/internal/rate"
)

func newExec(retryMax int, client *http.Client) *Executor {
	return New(zap.NewNop(), nil, client, retryMax, "test", nil)
}

// failingThen returns failStatus for the first failCount calls, then 200 with body.
func failingThen(failCount int, failStatus int, body []byte) (http.Handler, *atomic.Int32) {
	var n atomic.Int32
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if int(n.Add(1)) <= failCount {
			w.WriteHeader(failStatus)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}), &n
}

// ─── Success and decode ──────────────────────────────────────────────────────

func TestDoJSON_DecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]int{"ordinal": 3})
	}))
	defer srv.Close()

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	var out map[string]int
	require.NoError(t, newExec(2, srv.Client()).DoJSON(context.Background(), req, "k", &out))
	assert.Equal(t, 3, out["ordinal"])
}

func TestDoJSON_DecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not-json"))
	}))
	defer srv.Close()

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	var out map[string]string
	err := newExec(0, srv.Client()).DoJSON(context.Background(), req, "k", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode failed")
}

// ─── Retries ─────────────────────────────────────────────────────────────────

func TestDoJSON_Retries5xxThenSucceeds(t *testing.T) {
	h, count := failingThen(2, http.StatusBadGateway, []byte(`{"v":1}`))
	srv := httptest.NewServer(h)
	defer srv.Close()

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	var out map[string]int
	require.NoError(t, newExec(2, srv.Client()).DoJSON(context.Background(), req, "k", &out))
	assert.EqualValues(t, 3, count.Load())
	assert.Equal(t, 1, out["v"])
}

func TestDoJSON_PostBodyResentOnRetry(t *testing.T) {
	var (
		mu       sync.Mutex
		received []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		received = append(received, string(b))
		first := len(received) == 1
		mu.Unlock()
		if first {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("{}"))
	}))
	defer srv.Close()

	body, _ := json.Marshal(map[string]string{"credentialId": "c1"})
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodPost, srv.URL, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	require.NoError(t, newExec(1, srv.Client()).DoJSON(context.Background(), req, "k", nil))
	require.Len(t, received, 2)
	assert.JSONEq(t, `{"credentialId":"c1"}`, received[0])
	assert.JSONEq(t, `{"credentialId":"c1"}`, received[1], "retry must re-send the full body")
}

func TestDoJSON_ExhaustsRetries(t *testing.T) {
	h, count := failingThen(10, http.StatusInternalServerError, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	err := newExec(2, srv.Client()).DoJSON(context.Background(), req, "k", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 2 attempts")
	assert.EqualValues(t, 3, count.Load(), "retryMax=2 means 3 total attempts")
}

func TestDoJSON_CancelledDuringBackoff(t *testing.T) {
	h, count := failingThen(10, http.StatusInternalServerError, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)

	err := newExec(5, srv.Client()).DoJSON(ctx, req, "k", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, count.Load(), int32(6))
}

// ─── 4xx ─────────────────────────────────────────────────────────────────────

func TestDoJSON_4xxNotRetried(t *testing.T) {
	h, count := failingThen(10, http.StatusBadRequest, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	require.Error(t, newExec(2, srv.Client()).DoJSON(context.Background(), req, "k", nil))
	assert.EqualValues(t, 1, count.Load(), "4xx must not be retried")
}

func TestDoJSON_ErrorHandlerReceivesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"POOL_EXHAUSTED"}`))
	}))
	defer srv.Close()

	sentinel := errors.New("exhausted")
	exec := New(zap.NewNop(), nil, srv.Client(), 2, "test", func(status int, body []byte) error {
		if status == http.StatusConflict && bytes.Contains(body, []byte("POOL_EXHAUSTED")) {
			return sentinel
		}
		return nil
	})
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodPost, srv.URL, nil)
	assert.ErrorIs(t, exec.DoJSON(context.Background(), req, "k", nil), sentinel)
}

// ─── Rate limiting ───────────────────────────────────────────────────────────

func TestDoJSON_WaitsForRateLimiter(t *testing.T) {
	h, count := failingThen(0, 0, []byte("{}"))
	srv := httptest.NewServer(h)
	defer srv.Close()

	mgr := rate.NewManager(rate.Config{RequestsPerSecond: 1, Burst: 1})
	exec := New(zap.NewNop(), mgr, srv.Client(), 0, "test", nil)

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	require.NoError(t, exec.DoJSON(context.Background(), req, "alice", nil))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := exec.DoJSON(ctx, req, "alice", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 1, count.Load())
}
