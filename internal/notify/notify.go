// Package notify holds the outbound delivery collaborators. The engine only
// depends on the two interfaces; the HTTP implementations talk to whatever
// providers the deployment wires in.
package notify

import (
	"context"
	"net/http"
	"time"
)

// dispatchTimeout bounds a single provider call so a slow vendor cannot hold
// a handler for the whole request budget.
const dispatchTimeout = 30 * time.Second

// EmailMessage is one outbound email.
type EmailMessage struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
}

// EmailDispatcher sends transactional email.
type EmailDispatcher interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// SMSGateway sends a text message to an E.164 number.
type SMSGateway interface {
	Send(ctx context.Context, toE164, text string) error
}

func newDispatchClient() *http.Client {
	return &http.Client{Timeout: dispatchTimeout}
}
