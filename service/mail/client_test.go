package mail

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendConfirmation(t *testing.T) {
	var captured sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1.0/email/send", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &captured))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := NewClient(srv.URL, "svc_1", "tmpl_order", "pub_key", logger)

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	err := client.SendConfirmation(context.Background(), Confirmation{
		BuyerName:  "Alice",
		BuyerEmail: "alice@example.com",
		ItemName:   "Beach Towel",
		Amount:     "50.00",
		TxID:       "0xabc",
		Timestamp:  ts,
	})
	require.NoError(t, err)

	assert.Equal(t, "svc_1", captured.ServiceID)
	assert.Equal(t, "tmpl_order", captured.TemplateID)
	assert.Equal(t, "pub_key", captured.UserID)
	assert.Equal(t, "Alice", captured.TemplateParams["user_name"])
	assert.Equal(t, "50.00", captured.TemplateParams["amount"])
	assert.Equal(t, "Free", captured.TemplateParams["shipping"])
	assert.Equal(t, "0xabc", captured.TemplateParams["transaction_id"])
	assert.Equal(t, "2025-06-01T12:00:00Z", captured.TemplateParams["timestamp"])
}

func TestSendConfirmationServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "template not found", http.StatusBadRequest)
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := NewClient(srv.URL, "svc_1", "tmpl_order", "pub_key", logger)

	err := client.SendConfirmation(context.Background(), Confirmation{BuyerEmail: "a@b.c"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "template not found")
}
