package activation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/credpool/pkg/model"
)

// fakeAgent answers activation requests: values starting with "bad" fail,
// values starting with "hang" are never answered.
type fakeAgent struct {
	mu       sync.Mutex
	received []Request
	conns    int
}

func (f *fakeAgent) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		f.mu.Lock()
		f.conns++
		f.mu.Unlock()

		for {
			var req Request
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			f.mu.Lock()
			f.received = append(f.received, req)
			f.mu.Unlock()

			switch {
			case strings.HasPrefix(req.Credential.Value, "hang"):
				continue
			case strings.HasPrefix(req.Credential.Value, "drop"):
				return
			case strings.HasPrefix(req.Credential.Value, "bad"):
				_ = conn.WriteJSON(Response{Type: TypeResult, RequestID: req.RequestID, ErrorCode: "NETFLIX_ERROR", Error: "login page"})
			default:
				_ = conn.WriteJSON(Response{Type: TypeResult, RequestID: req.RequestID, Success: true})
			}
		}
	}
}

func newAgent(t *testing.T) (*Agent, *fakeAgent) {
	t.Helper()
	fake := &fakeAgent{}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	a := NewAgent("ws"+strings.TrimPrefix(srv.URL, "http"), zap.NewNop())
	t.Cleanup(func() { _ = a.Close() })
	return a, fake
}

func cred(value string) model.Activation {
	return model.Activation{ID: "c-" + value, Name: "SessionId", Value: value, Domain: ".example.com", Path: "/", Secure: true}
}

func TestAgent_Success(t *testing.T) {
	a, fake := newAgent(t)

	out, err := a.Activate(context.Background(), cred("good-token"))
	require.NoError(t, err)
	assert.True(t, out.Success)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.received, 1)
	assert.Equal(t, TypeActivate, fake.received[0].Type)
	assert.Equal(t, "good-token", fake.received[0].Credential.Value)
	assert.NotEmpty(t, fake.received[0].RequestID)
}

func TestAgent_FailureCode(t *testing.T) {
	a, _ := newAgent(t)

	out, err := a.Activate(context.Background(), cred("bad-token"))
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, "NETFLIX_ERROR", out.ErrorCode)
}

func TestAgent_ConcurrentRequestsShareConnection(t *testing.T) {
	a, fake := newAgent(t)
	require.NoError(t, a.Connect(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v := "good"
			if i%2 == 0 {
				v = "bad"
			}
			out, err := a.Activate(context.Background(), cred(v))
			assert.NoError(t, err)
			assert.Equal(t, i%2 != 0, out.Success)
		}(i)
	}
	wg.Wait()

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, 1, fake.conns)
}

func TestAgent_ContextDeadline(t *testing.T) {
	a, _ := newAgent(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := a.Activate(ctx, cred("hang"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAgent_DisconnectFailsPendingAndRedials(t *testing.T) {
	a, fake := newAgent(t)

	_, err := a.Activate(context.Background(), cred("drop"))
	assert.ErrorIs(t, err, ErrDisconnected)

	require.Eventually(t, func() bool {
		out, err := a.Activate(context.Background(), cred("good"))
		return err == nil && out.Success
	}, 2*time.Second, 20*time.Millisecond)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.GreaterOrEqual(t, fake.conns, 2)
}

func TestAgent_DialFailure(t *testing.T) {
	a := NewAgent("ws://127.0.0.1:1/agent", nil)
	_, err := a.Activate(context.Background(), cred("good"))
	assert.Error(t, err)
	assert.NoError(t, a.Close())
}
