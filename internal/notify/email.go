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

// HTTPEmailDispatcher posts messages to a JSON transactional-mail API,
// authenticated with a bearer key from the secret vault.
type HTTPEmailDispatcher struct {
	endpoint string
	from     string
	keys     *secrets.Cache
	client   *http.Client
}

// NewHTTPEmailDispatcher creates a dispatcher for the given API endpoint.
func NewHTTPEmailDispatcher(endpoint, from string, keys *secrets.Cache) *HTTPEmailDispatcher {
	return &HTTPEmailDispatcher{
		endpoint: endpoint,
		from:     from,
		keys:     keys,
		client:   newDispatchClient(),
	}
}

type emailPayload struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"html"`
	TextBody string `json:"text"`
}

// Send implements EmailDispatcher.
func (d *HTTPEmailDispatcher) Send(ctx context.Context, msg EmailMessage) error {
	apiKey, err := d.keys.Get(ctx, secrets.EmailProviderKey)
	if err != nil {
		return fmt.Errorf("email provider key: %w", err)
	}

	body, err := json.Marshal(emailPayload{
		From:     d.from,
		To:       msg.To,
		Subject:  msg.Subject,
		HTMLBody: msg.HTMLBody,
		TextBody: msg.TextBody,
	})
	if err != nil {
		return fmt.Errorf("marshal email payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("email provider call: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("email provider returned status %d", resp.StatusCode)
	}
	return nil
}
