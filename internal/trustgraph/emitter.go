package trustgraph

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/andperez123/capnet/internal/metrics"
	"github.com/andperez123/capnet/internal/model"
)

const webhookPath = "/trust/webhooks/capnet"

type EmitterConfig struct {
	URL           string
	APIKey        string
	WebhookSecret string
	Enabled       bool
	Timeout       time.Duration
}

// Emitter posts trust events to the ledger webhook.
type Emitter struct {
	client *resty.Client
	cfg    EmitterConfig
	now    func() time.Time
}

func NewEmitter(cfg EmitterConfig) *Emitter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")

	c := resty.New().
		SetBaseURL(cfg.URL).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		c.SetAuthToken(cfg.APIKey)
	}
	if cfg.WebhookSecret != "" {
		c.SetHeader("X-Webhook-Secret", cfg.WebhookSecret)
	}
	return &Emitter{client: c, cfg: cfg, now: time.Now}
}

// Configured reports whether Emit will reach the network.
func (e *Emitter) Configured() bool {
	return e.cfg.Enabled && e.cfg.URL != ""
}

type webhookBody struct {
	Events []model.TrustEvent `json:"events"`
}

// Emit delivers one event. A zero Timestamp is stamped with the current time.
func (e *Emitter) Emit(ctx context.Context, ev model.TrustEvent) model.EmitResult {
	if !e.Configured() {
		metrics.TrustEvent(ev.Type, "not_configured")
		return model.EmitResult{Emitted: false, Reason: "not_configured"}
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(webhookBody{Events: []model.TrustEvent{ev}}).
		Post(webhookPath)
	if err != nil {
		reason := failureReason(ctx, err)
		metrics.TrustEvent(ev.Type, "error")
		return model.EmitResult{Emitted: false, Error: reason}
	}
	res := model.EmitResult{Emitted: resp.IsSuccess(), Status: resp.StatusCode()}
	if res.Emitted {
		metrics.TrustEvent(ev.Type, "emitted")
	} else {
		metrics.TrustEvent(ev.Type, "rejected")
	}
	return res
}

// AgentRegistered builds the event for a new or re-registered agent.
func AgentRegistered(agentID, operatorID string) model.TrustEvent {
	return model.TrustEvent{Type: model.EventAgentRegistered, Subject: agentID, Source: operatorID}
}

// AgentVerified builds the event for a completed verification run.
func AgentVerified(agentID, operatorID string) model.TrustEvent {
	return model.TrustEvent{Type: model.EventAgentVerified, Subject: agentID, Source: operatorID}
}

// ConsoleVerified builds the event for an operator console sign-in.
func ConsoleVerified(operatorID string) model.TrustEvent {
	return model.TrustEvent{Type: model.EventConsoleVerified, Subject: operatorID}
}
