package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalance_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/balance/wallet123", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"address":  "wallet123",
			"balance":  1.25,
			"lamports": 1250000000,
			"slot":     99,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok", nil, nil)
	bal, err := client.Balance(context.Background(), "wallet123")
	require.NoError(t, err)
	assert.Equal(t, 1.25, bal.Balance)
	assert.Equal(t, uint64(1250000000), bal.Lamports)
	assert.Equal(t, uint64(99), bal.Slot)
}

func TestBalance_Unauthenticated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"error":   "no session token",
			"kind":    "unauthenticated",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "", nil, nil)
	_, err := client.Balance(context.Background(), "wallet123")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "unauthenticated", apiErr.Kind)
	assert.Contains(t, err.Error(), "no session token")
}

func TestTransfer_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/transfers", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "order-1", r.Header.Get("Idempotency-Key"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "sender", body["senderAddress"])
		assert.Equal(t, "secret", body["senderPrivateKey"])
		assert.Equal(t, "recipient", body["recipientAddress"])
		assert.Equal(t, "1.5", body["amount"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"success":   true,
			"signature": "sig123",
			"lamports":  1500000000,
			"amount":    "1.500000000",
			"status":    "confirmed",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok", nil, nil)
	res, err := client.Transfer(context.Background(), TransferRequest{
		SenderAddress:    "sender",
		SenderPrivateKey: "secret",
		RecipientAddress: "recipient",
		Amount:           "1.5",
	}, "order-1")
	require.NoError(t, err)
	assert.Equal(t, "sig123", res.Signature)
	assert.Equal(t, uint64(1500000000), res.Lamports)
	assert.Equal(t, "confirmed", res.Status)
}

func TestTransfer_TimeoutCarriesSignature(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Idempotency-Key"))
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success":   false,
			"error":     "transaction not confirmed within 30s",
			"kind":      "confirmation_timeout",
			"signature": "sig456",
			"status":    "unknown",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok", nil, nil)
	_, err := client.Transfer(context.Background(), TransferRequest{}, "")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "confirmation_timeout", apiErr.Kind)
	assert.Equal(t, "sig456", apiErr.Signature)
	assert.Equal(t, "unknown", apiErr.Status)
	assert.Contains(t, err.Error(), "sig456")
}

func TestListTransactions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/transactions", r.URL.Path)
		assert.Equal(t, "wallet123", r.URL.Query().Get("address"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Empty(t, r.URL.Query().Get("offset"))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"transactions": []map[string]interface{}{
				{"signature": "sig1", "sender": "wallet123", "lamports": 5, "status": "confirmed"},
			},
			"count":  1,
			"total":  1,
			"limit":  10,
			"offset": 0,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok", nil, nil)
	list, err := client.ListTransactions(context.Background(), "wallet123", 10, 0)
	require.NoError(t, err)
	require.Len(t, list.Transactions, 1)
	assert.Equal(t, "sig1", list.Transactions[0].Signature)
	assert.Equal(t, int64(1), list.Total)
}

func TestDashboard(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/dashboard", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"subject": "user-1",
			"message": "Welcome to your dashboard, user-1",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok", nil, nil)
	d, err := client.Dashboard(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user-1", d.Subject)
}

func TestHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", "tok", nil, nil)
	assert.NoError(t, client.Health(context.Background()))
}

func TestNonJSONError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok", nil, nil)
	_, err := client.Dashboard(context.Background())

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "bad gateway", apiErr.Message)
}

func TestStreamTransfers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/stream/transfers/wallet123", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: connected\ndata: {\"address\":\"wallet123\"}\n\n")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "event: transfer\ndata: {\"signature\":\"sig1\",\"status\":\"confirmed\"}\n\n")
		fmt.Fprint(w, "event: transfer\ndata: {\"signature\":\"sig2\",\"status\":\"dropped\"}\n\n")
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok", nil, nil)

	var got []string
	err := client.StreamTransfers(context.Background(), "wallet123", func(e *TransferEvent) error {
		got = append(got, e.Signature+":"+e.Status)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"sig1:confirmed", "sig2:dropped"}, got)
}

func TestStreamTransfers_CallbackStops(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "event: transfer\ndata: {\"signature\":\"sig1\"}\n\n")
		fmt.Fprint(w, "event: transfer\ndata: {\"signature\":\"sig2\"}\n\n")
	}))
	defer server.Close()

	stop := errors.New("stop")
	calls := 0
	client := NewClient(server.URL, "tok", nil, nil)
	err := client.StreamTransfers(context.Background(), "wallet123", func(e *TransferEvent) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}
