package activation

import "github.com/Checker-Finance/credpool/pkg/model"

// Message types on the agent socket.
const (
	TypeActivate = "activate"
	TypeResult   = "result"
)

// Request asks the agent to apply a credential and check the resulting session.
type Request struct {
	Type       string           `json:"type"`
	RequestID  string           `json:"requestId"`
	Credential model.Activation `json:"credential"`
}

// Response is the agent's verdict for one request.
type Response struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	Success   bool   `json:"success"`
	ErrorCode string `json:"errorCode,omitempty"`
	Error     string `json:"error,omitempty"`
}
