package model

import (
	"encoding/json"
	"time"
)

// Operator is an account that registers and owns agents.
type Operator struct {
	OperatorID string    `json:"operatorId"`
	Email      string    `json:"email"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Agent is a registered worker tracked for reputation and earnings.
type Agent struct {
	AgentID          string    `json:"agentId"`
	OperatorID       string    `json:"operatorId"`
	Email            string    `json:"email"`
	Skills           []string  `json:"skills"`
	Earnings         float64   `json:"earnings"`
	ActivationStatus string    `json:"activationStatus"`
	JoinedAt         time.Time `json:"joinedAt"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// AgentRegistration carries the caller-supplied fields of an agent upsert.
// Earnings are never taken from a registration.
type AgentRegistration struct {
	AgentID          string
	OperatorID       string
	Email            string
	Skills           []string
	ActivationStatus string
}

const DefaultActivationStatus = "registered"

// LeaderboardEntry is the public projection of an Agent. It never carries the email.
type LeaderboardEntry struct {
	AgentID    string    `json:"agentId"`
	OperatorID string    `json:"operatorId"`
	Earnings   float64   `json:"earnings"`
	JoinedAt   time.Time `json:"joinedAt"`
}

// Session binds an opaque token to an operator for a bounded time window.
type Session struct {
	OperatorID string    `json:"operatorId"`
	Email      string    `json:"email"`
	CreatedAt  time.Time `json:"createdAt"`
}

// JoinEvent is a waitlist signal.
type JoinEvent struct {
	Email    string    `json:"email"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Activity is one entry of an agent's most-recent-first activity log.
// Extra holds caller-defined fields; they are flattened next to the fixed
// fields when serialized.
type Activity struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Extra     map[string]any `json:"-"`
}

var activityFixedFields = map[string]struct{}{
	"id": {}, "type": {}, "message": {}, "source": {}, "timestamp": {},
}

// MarshalJSON flattens Extra into the top-level object. Fixed fields win on collision.
func (a Activity) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(a.Extra)+5)
	for k, v := range a.Extra {
		if _, fixed := activityFixedFields[k]; fixed {
			continue
		}
		out[k] = v
	}
	out["id"] = a.ID
	out["type"] = a.Type
	out["message"] = a.Message
	out["source"] = a.Source
	out["timestamp"] = a.Timestamp
	return json.Marshal(out)
}

// UnmarshalJSON reads the fixed fields and collects everything else into Extra.
func (a *Activity) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var fixed struct {
		ID        string    `json:"id"`
		Type      string    `json:"type"`
		Message   string    `json:"message"`
		Source    string    `json:"source"`
		Timestamp time.Time `json:"timestamp"`
	}
	if err := json.Unmarshal(b, &fixed); err != nil {
		return err
	}
	a.ID, a.Type, a.Message, a.Source, a.Timestamp = fixed.ID, fixed.Type, fixed.Message, fixed.Source, fixed.Timestamp
	a.Extra = nil
	for k, v := range raw {
		if _, ok := activityFixedFields[k]; ok {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		if a.Extra == nil {
			a.Extra = make(map[string]any)
		}
		a.Extra[k] = val
	}
	return nil
}

// Trust result statuses.
const (
	TrustStatusOK    = "ok"
	TrustStatusError = "error"
	TrustStatusOff   = "off"
)

// TrustResult is the normalized outcome of a reputation lookup. It is also
// the value stored in the trust cache.
type TrustResult struct {
	Status     string          `json:"status"`
	Score      *float64        `json:"score,omitempty"`
	UpdatedAt  string          `json:"updatedAt,omitempty"`
	LatencyMs  int64           `json:"latencyMs"`
	CheckedAt  string          `json:"checkedAt"`
	Scores     json.RawMessage `json:"scores,omitempty"`
	Rank7d     *float64        `json:"rank7d,omitempty"`
	ProofCount *float64        `json:"proofCount,omitempty"`
	Error      string          `json:"error,omitempty"`
	Cached     bool            `json:"cached,omitempty"`
}

// Trust event types sent to the ledger.
const (
	EventAgentRegistered = "capnet.agent.registered"
	EventAgentVerified   = "capnet.agent.verified"
	EventConsoleVerified = "capnet.console.verified"
)

// TrustEvent is the envelope posted to the trust ledger webhook.
type TrustEvent struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Subject   string    `json:"subject"`
	Source    string    `json:"source,omitempty"`
}

// EmitResult reports the outcome of a single ledger delivery.
type EmitResult struct {
	Emitted bool   `json:"emitted"`
	Status  int    `json:"status,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Error   string `json:"error,omitempty"`
}
