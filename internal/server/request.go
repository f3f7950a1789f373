package server

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// QueryRequest is the body of tool invocations and agent runs.
type QueryRequest struct {
	Query string `json:"query" validate:"required"`
}

// TraceRequest is the body of POST /api/v1/traces. Missing id, timestamp,
// type and status are filled in.
type TraceRequest struct {
	ID           string         `json:"id,omitempty" validate:"omitempty,max=128"`
	Timestamp    *time.Time     `json:"timestamp,omitempty"`
	SessionID    string         `json:"sessionId,omitempty"`
	MessageType  string         `json:"messageType,omitempty" validate:"omitempty,oneof=user agent"`
	Message      string         `json:"message" validate:"required"`
	ResponseTime int64          `json:"responseTime" validate:"min=0"`
	TokenCount   int            `json:"tokenCount" validate:"min=0"`
	Confidence   float64        `json:"confidence" validate:"min=0,max=1"`
	Status       string         `json:"status,omitempty" validate:"omitempty,oneof=success error"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateRequest returns the failed fields keyed by JSON name, or nil.
func validateRequest(req any) map[string]string {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]string{"request": err.Error()}
	}
	out := make(map[string]string, len(verrs))
	for _, e := range verrs {
		out[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
	}
	return out
}
