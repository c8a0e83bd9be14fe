// Package notify delivers workflow notifications (submission receipts,
// admin alerts, approval and rejection notices) to an external sink. The
// portal never sends email itself; a downstream consumer of the sink does.
package notify

import (
	"context"
	"errors"
)

type Kind string

const (
	KindRequestReceived Kind = "access_request_received"
	KindRequestAlert    Kind = "access_request_alert"
	KindRequestApproved Kind = "access_request_approved"
	KindRequestRejected Kind = "access_request_rejected"
)

// Message is one notification. Subject identifies the record it concerns
// and doubles as the partition key.
type Message struct {
	Kind       Kind                   `json:"kind"`
	Recipients []string               `json:"recipients"`
	Subject    string                 `json:"subject"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// Notifier is a fallible side effect. Callers log failures and carry on.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

var ErrNoRecipients = errors.New("notification has no recipients")

// sensitiveKeys are never written to logs.
var sensitiveKeys = map[string]bool{
	"temp_password": true,
}

func redacted(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		if sensitiveKeys[k] {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = v
	}
	return out
}
