package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkpass/server/internal/secrets"
)

func testKeys() *secrets.Cache {
	return secrets.NewCache(secrets.Static{
		secrets.EmailProviderKey: "mail-key",
		secrets.SMSProviderKey:   "sms-key",
	})
}

func TestHTTPEmailDispatcher_send(t *testing.T) {
	var got emailPayload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	d := NewHTTPEmailDispatcher(srv.URL, "login@linkpass.app", testKeys())
	err := d.Send(context.Background(), EmailMessage{
		To:       "user@example.com",
		Subject:  "Your sign-in link",
		HTMLBody: "<a href=x>link</a>",
		TextBody: "link",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer mail-key", auth)
	assert.Equal(t, "login@linkpass.app", got.From)
	assert.Equal(t, "user@example.com", got.To)
}

func TestHTTPEmailDispatcher_providerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rejected", http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewHTTPEmailDispatcher(srv.URL, "login@linkpass.app", testKeys())
	err := d.Send(context.Background(), EmailMessage{To: "user@example.com"})
	assert.ErrorContains(t, err, "status 502")
}

func TestTelnyxGateway_send(t *testing.T) {
	var got smsPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	g := NewTelnyxGateway(srv.URL, "+15550100000", testKeys())
	err := g.Send(context.Background(), "+491701234567", "your link: https://lk/s/AbC123")
	require.NoError(t, err)
	assert.Equal(t, "+491701234567", got.To)
	assert.Equal(t, "+15550100000", got.From)
}
