package alert

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelegramAlerter_SendMessage(t *testing.T) {
	var (
		gotPath string
		payload map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &payload))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := NewTelegramAlerter("123:ABC", "-100200").WithAPIBase(srv.URL + "/")
	err := tg.Send(context.Background(), Alert{
		Type:    AlertTypeFundsReceived,
		Subject: "wallet-1",
		Title:   "Funds received",
		Message: "received 1.5 SOL",
		Fields:  map[string]string{"wallet": "wallet-1", "endpoint": "rpc-1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "/bot123:ABC/sendMessage", gotPath)
	assert.Equal(t, "-100200", payload["chat_id"])
	assert.Equal(t, true, payload["disable_web_page_preview"])
	assert.Equal(t,
		"[FUNDS_RECEIVED] Funds received\nreceived 1.5 SOL\nendpoint: rpc-1\nwallet: wallet-1",
		payload["text"])
}

func TestTelegramAlerter_ErrorDoesNotLeakToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tg := NewTelegramAlerter("secret-token", "1").WithAPIBase(srv.URL)
	err := tg.Send(context.Background(), Alert{Type: AlertTypeMonitoring, Title: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram returned status 401")
	assert.NotContains(t, err.Error(), "secret-token")
}

func TestTelegramAlerter_UnreachableDoesNotLeakToken(t *testing.T) {
	tg := NewTelegramAlerter("secret-token", "1").WithAPIBase("http://127.0.0.1:1")
	err := tg.Send(context.Background(), Alert{Type: AlertTypeMonitoring, Title: "hi"})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret-token")
}
