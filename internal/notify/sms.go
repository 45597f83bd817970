package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/linkpass/server/internal/secrets"
)

// TelnyxGateway posts messages to a Telnyx-compatible messaging API.
type TelnyxGateway struct {
	endpoint string
	from     string
	keys     *secrets.Cache
	client   *http.Client
}

// NewTelnyxGateway creates a gateway for the given API endpoint.
func NewTelnyxGateway(endpoint, from string, keys *secrets.Cache) *TelnyxGateway {
	return &TelnyxGateway{
		endpoint: endpoint,
		from:     from,
		keys:     keys,
		client:   newDispatchClient(),
	}
}

type smsPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
}

// Send implements SMSGateway.
func (g *TelnyxGateway) Send(ctx context.Context, toE164, text string) error {
	apiKey, err := g.keys.Get(ctx, secrets.SMSProviderKey)
	if err != nil {
		return fmt.Errorf("sms provider key: %w", err)
	}

	body, err := json.Marshal(smsPayload{From: g.from, To: toE164, Text: text})
	if err != nil {
		return fmt.Errorf("marshal sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms provider call: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sms provider returned status %d", resp.StatusCode)
	}
	return nil
}
