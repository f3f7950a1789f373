package domain

import (
	"context"
	"time"
)

type TraceMessageType string

const (
	TraceUser  TraceMessageType = "user"
	TraceAgent TraceMessageType = "agent"
)

type TraceStatus string

const (
	TraceSuccess TraceStatus = "success"
	TraceError   TraceStatus = "error"
)

// CallTrace records one exchange between the voice session and a shell tool.
type CallTrace struct {
	ID           string           `json:"id"`
	Timestamp    time.Time        `json:"timestamp"`
	SessionID    string           `json:"sessionId"`
	MessageType  TraceMessageType `json:"messageType"`
	Message      string           `json:"message"`
	ResponseTime int64            `json:"responseTime"` // milliseconds
	TokenCount   int              `json:"tokenCount"`
	Confidence   float64          `json:"confidence"`
	Status       TraceStatus      `json:"status"`
	Metadata     map[string]any   `json:"metadata"`
}

// TraceStore persists call traces for later inspection.
type TraceStore interface {
	AddTrace(ctx context.Context, t CallTrace) error
	ListTraces(ctx context.Context, limit int) ([]CallTrace, error)
	ClearTraces(ctx context.Context) error
	Close() error
}
