package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/credpool/internal/api"
	"github.com/Checker-Finance/credpool/internal/pool"
	"github.com/Checker-Finance/credpool/internal/retry"
	"github.com/Checker-Finance/credpool/internal/store"
	"github.com/Checker-Finance/credpool/pkg/model"
)

var secret = []byte("client-test-secret")

func newServer(t *testing.T) (*httptest.Server, *pool.Allocator) {
	t.Helper()
	st := store.NewMemory()
	alloc := pool.NewAllocator(st, nil, zap.NewNop(), pool.Options{})
	app := fiber.New()
	api.RegisterRoutes(app, nil, st,
		api.JWTAuth(api.AuthConfig{Secret: secret}, zap.NewNop()),
		api.RateLimit(nil),
		api.NewPoolHandler(zap.NewNop(), alloc),
		api.NewAdminHandler(zap.NewNop(), alloc),
	)
	srv := httptest.NewServer(adaptor.FiberApp(app))
	t.Cleanup(srv.Close)
	return srv, alloc
}

func newClient(t *testing.T, baseURL, subject string) *PoolClient {
	t.Helper()
	tok, err := api.SignToken(secret, "", subject, "", time.Hour)
	require.NoError(t, err)
	c, err := New(Config{BaseURL: baseURL, Token: tok, RetryMax: 1}, nil, zap.NewNop())
	require.NoError(t, err)
	return c
}

func seed(t *testing.T, alloc *pool.Allocator, capacities ...int) []string {
	t.Helper()
	inputs := make([]pool.CredentialInput, len(capacities))
	for i, c := range capacities {
		inputs[i] = pool.CredentialInput{Value: "value" + string(rune('a'+i)), Capacity: c}
	}
	res, err := alloc.Import(context.Background(), inputs, "manual")
	require.NoError(t, err)
	ids := make([]string, len(res.Credentials))
	for i, c := range res.Credentials {
		ids[i] = c.ID
	}
	return ids
}

func TestNew_RequiresSubject(t *testing.T) {
	_, err := New(Config{BaseURL: "http://x", Token: "garbage"}, nil, nil)
	assert.Error(t, err)

	tok, err := api.SignToken(secret, "", "", "", time.Hour)
	require.NoError(t, err)
	_, err = New(Config{BaseURL: "http://x", Token: tok}, nil, nil)
	assert.Error(t, err)

	_, err = New(Config{Token: tok}, nil, nil)
	assert.Error(t, err)
}

func TestPoolClient_RoundTrip(t *testing.T) {
	srv, alloc := newServer(t)
	ids := seed(t, alloc, 2)
	c := newClient(t, srv.URL, "alice")
	ctx := context.Background()
	assert.Equal(t, "alice", c.Identity())

	cand, err := c.Preview(ctx, "alice", nil, false)
	require.NoError(t, err)
	assert.Equal(t, ids[0], cand.ID)
	assert.Equal(t, "valuea", cand.Value)

	got, err := c.Confirm(ctx, "alice", cand.ID)
	require.NoError(t, err)
	assert.Equal(t, ids[0], got.ID)

	held, err := c.Assignment(ctx)
	require.NoError(t, err)
	require.NotNil(t, held)
	assert.Equal(t, ids[0], held.ID)

	require.NoError(t, c.Release(ctx))
	held, err = c.Assignment(ctx)
	require.NoError(t, err)
	assert.Nil(t, held)
}

func TestPoolClient_MapsErrorsToSentinels(t *testing.T) {
	srv, alloc := newServer(t)
	ids := seed(t, alloc, 1)
	c := newClient(t, srv.URL, "alice")
	ctx := context.Background()

	_, err := c.Preview(ctx, "alice", ids, false)
	assert.ErrorIs(t, err, pool.ErrPoolExhausted)

	_, err = c.Confirm(ctx, "alice", "missing")
	assert.ErrorIs(t, err, pool.ErrCredentialNotFound)
	assert.True(t, pool.Stale(err))

	require.NoError(t, c.ReportDead(ctx, ids[0], "X"))
	_, err = c.Confirm(ctx, "alice", ids[0])
	assert.ErrorIs(t, err, pool.ErrCredentialInactive)

	err = c.ReportDead(ctx, "missing", "X")
	assert.ErrorIs(t, err, pool.ErrCredentialNotFound)
}

func TestPoolClient_RejectsForeignIdentity(t *testing.T) {
	srv, _ := newServer(t)
	c := newClient(t, srv.URL, "alice")

	_, err := c.Preview(context.Background(), "bob", nil, false)
	assert.ErrorIs(t, err, ErrIdentityMismatch)
	_, err = c.Confirm(context.Background(), "bob", "x")
	assert.ErrorIs(t, err, ErrIdentityMismatch)
}

func TestPoolClient_UnknownErrorBody(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte(`{"error":"short and stout","code":"TEAPOT"}`))
	}))
	defer srv.Close()
	c := newClient(t, srv.URL, "alice")

	_, err := c.Preview(context.Background(), "alice", nil, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "418")
	assert.Contains(t, err.Error(), "short and stout")
	assert.EqualValues(t, 1, calls.Load())
}

// alwaysOK activates every credential.
type alwaysOK struct{}

func (alwaysOK) Activate(context.Context, model.Activation) (retry.Outcome, error) {
	return retry.Outcome{Success: true}, nil
}

// failFirst fails the first n activations.
type failFirst struct{ n atomic.Int32 }

func (f *failFirst) Activate(context.Context, model.Activation) (retry.Outcome, error) {
	if f.n.Add(-1) >= 0 {
		return retry.Outcome{ErrorCode: "LOGIN_CHECK_FAILED"}, nil
	}
	return retry.Outcome{Success: true}, nil
}

func TestOrchestratorOverHTTP(t *testing.T) {
	srv, alloc := newServer(t)
	ids := seed(t, alloc, 1, 1, 1)
	c := newClient(t, srv.URL, "alice")

	act := &failFirst{}
	act.n.Store(2)
	o := retry.New(c, act, retry.Config{Backoff: time.Millisecond}, zap.NewNop())

	res := o.AttemptLogin(context.Background(), c.Identity(), nil)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, ids[2], res.Credential.ID)

	for _, id := range ids[:2] {
		cred, err := alloc.Get(context.Background(), id)
		require.NoError(t, err)
		assert.False(t, cred.Active)
	}
	held, err := alloc.Assignment(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, ids[2], held.ID)
}

func TestOrchestratorOverHTTP_EmptyPool(t *testing.T) {
	srv, _ := newServer(t)
	c := newClient(t, srv.URL, "alice")
	o := retry.New(c, alwaysOK{}, retry.Config{Backoff: time.Millisecond}, zap.NewNop())

	res := o.AttemptLogin(context.Background(), c.Identity(), nil)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, pool.ErrPoolExhausted)
	assert.Zero(t, res.Attempts)
}
