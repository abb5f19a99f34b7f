package activation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Checker-Finance/credpool/internal/retry"
	"github.com/Checker-Finance/credpool/pkg/model"
	"github.com/Checker-Finance/credpool/pkg/utils"
)

// ErrDisconnected is returned for requests in flight when the socket drops.
var ErrDisconnected = errors.New("activation agent disconnected")

// Agent drives a remote activation agent over a WebSocket. Requests are
// correlated by id, so one connection serves concurrent logins. A dropped
// connection is re-dialled on the next Activate.
type Agent struct {
	url    string
	logger *zap.Logger
	dialer websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan Response

	writeMu sync.Mutex
}

func NewAgent(url string, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		url:     url,
		logger:  logger,
		dialer:  websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		pending: make(map[string]chan Response),
	}
}

// Connect dials the agent unless a connection is already open.
func (a *Agent) Connect(ctx context.Context) error {
	_, err := a.connection(ctx)
	return err
}

func (a *Agent) connection(ctx context.Context) (*websocket.Conn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil {
		return a.conn, nil
	}

	a.logger.Info("activation.agent.connecting", zap.String("url", a.url))
	conn, _, err := a.dialer.DialContext(ctx, a.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to activation agent: %w", err)
	}
	a.conn = conn
	go a.readLoop(conn)
	return conn, nil
}

// Activate implements retry.Activator.
func (a *Agent) Activate(ctx context.Context, cred model.Activation) (retry.Outcome, error) {
	conn, err := a.connection(ctx)
	if err != nil {
		return retry.Outcome{}, err
	}

	req := Request{Type: TypeActivate, RequestID: uuid.NewString(), Credential: cred}
	data, err := json.Marshal(req)
	if err != nil {
		return retry.Outcome{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	ch := make(chan Response, 1)
	a.mu.Lock()
	a.pending[req.RequestID] = ch
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.pending, req.RequestID)
		a.mu.Unlock()
	}()

	a.logger.Debug("activation.agent.send",
		zap.String("request", req.RequestID),
		zap.String("credential", cred.ID),
		zap.String("value", utils.MaskSecret(cred.Value)))

	a.writeMu.Lock()
	deadline, _ := ctx.Deadline()
	_ = conn.SetWriteDeadline(deadline)
	err = conn.WriteMessage(websocket.TextMessage, data)
	a.writeMu.Unlock()
	if err != nil {
		a.drop(conn)
		return retry.Outcome{}, fmt.Errorf("failed to send activation request: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return retry.Outcome{}, ErrDisconnected
		}
		if !resp.Success && resp.Error != "" {
			a.logger.Info("activation.agent.rejected",
				zap.String("credential", cred.ID),
				zap.String("code", resp.ErrorCode),
				zap.String("error", resp.Error))
		}
		return retry.Outcome{Success: resp.Success, ErrorCode: resp.ErrorCode}, nil
	case <-ctx.Done():
		return retry.Outcome{}, ctx.Err()
	}
}

func (a *Agent) readLoop(conn *websocket.Conn) {
	defer a.drop(conn)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				a.logger.Info("activation.agent.closed")
			} else {
				a.logger.Warn("activation.agent.read_failed", zap.Error(err))
			}
			return
		}

		var resp Response
		if err := json.Unmarshal(message, &resp); err != nil {
			a.logger.Error("activation.agent.decode_failed", zap.Error(err))
			continue
		}
		if resp.Type != TypeResult {
			continue
		}

		a.mu.Lock()
		ch, ok := a.pending[resp.RequestID]
		if ok {
			delete(a.pending, resp.RequestID)
		}
		a.mu.Unlock()
		if !ok {
			a.logger.Debug("activation.agent.unmatched", zap.String("request", resp.RequestID))
			continue
		}
		ch <- resp
	}
}

// drop forgets conn and fails every request waiting on it.
func (a *Agent) drop(conn *websocket.Conn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != conn {
		return
	}
	_ = conn.Close()
	a.conn = nil
	for id, ch := range a.pending {
		close(ch)
		delete(a.pending, id)
	}
}

func (a *Agent) Close() error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return nil
	}
	a.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	a.writeMu.Unlock()
	a.drop(conn)
	return nil
}
