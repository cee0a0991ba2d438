package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/peersync/internal/models"
	"github.com/iudanet/peersync/pkg/api"
)

// TestNewClient проверяет создание нового клиента
func TestNewClient(t *testing.T) {
	baseURL := "http://127.0.0.1:8002"
	client := NewClient(baseURL, "tok")

	assert.NotNil(t, client)
	assert.Equal(t, baseURL, client.baseURL)
	assert.Equal(t, "tok", client.token)
	assert.Equal(t, 30*time.Second, client.httpClient.Timeout)
}

func TestClient_Status(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/status", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		_ = json.NewEncoder(w).Encode(api.StatusResponse{
			State:          "connected",
			DeviceID:       "00000000000000aa",
			ConnectedPeers: []string{"00000000000000bb"},
			DocumentCount:  4,
			VectorClock:    models.VectorClock{"00000000000000aa": 7},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok")
	resp, err := client.Status(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "connected", resp.State)
	assert.Equal(t, 4, resp.DocumentCount)
	assert.Equal(t, uint64(7), resp.VectorClock["00000000000000aa"])
}

func TestClient_NoTokenHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(api.HealthResponse{Status: "ok"})
	}))
	defer server.Close()

	resp, err := NewClient(server.URL, "").Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
}

func TestClient_AcceptPairing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/peers", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req api.AcceptPairingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "jwt-token", req.Token)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(api.PeerResponse{DeviceID: "00000000000000bb", Name: "phone"})
	}))
	defer server.Close()

	peer, err := NewClient(server.URL, "").AcceptPairing(context.Background(), "jwt-token")
	require.NoError(t, err)
	assert.Equal(t, "phone", peer.Name)
}

func TestClient_Permissions(t *testing.T) {
	var seen []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodPut {
			var req api.GrantRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "write", req.Level)
			assert.Equal(t, "1h", req.TTL)
		}
		_ = json.NewEncoder(w).Encode(api.PeerResponse{DeviceID: "00000000000000bb"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	ctx := context.Background()

	_, err := client.Grant(ctx, "00000000000000bb", "camera", api.GrantRequest{Level: "write", TTL: "1h"})
	require.NoError(t, err)
	_, err = client.Revoke(ctx, "00000000000000bb", "camera")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"PUT /peers/00000000000000bb/permissions/camera",
		"DELETE /peers/00000000000000bb/permissions/camera",
	}, seen)
}

func TestClient_Untrust_NoContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/peers/00000000000000bb", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	require.NoError(t, NewClient(server.URL, "").Untrust(context.Background(), "00000000000000bb"))
}

func TestClient_Documents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.Path {
		case "GET /documents":
			assert.Equal(t, "note", r.URL.Query().Get("type"))
			_ = json.NewEncoder(w).Encode([]api.DocumentResponse{{ID: "n1", Type: "note"}})
		case "GET /documents/n1":
			_ = json.NewEncoder(w).Encode(api.DocumentResponse{ID: "n1", Content: map[string]any{"a": "b"}})
		case "PUT /documents/n1":
			var req api.PutDocumentRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "note", req.Type)
			_ = json.NewEncoder(w).Encode(api.OperationResponse{DocumentID: "n1", Type: "update"})
		case "DELETE /documents/n1":
			_ = json.NewEncoder(w).Encode(api.OperationResponse{DocumentID: "n1", Type: "delete"})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	ctx := context.Background()

	docs, err := client.Documents(ctx, "note")
	require.NoError(t, err)
	require.Len(t, docs, 1)

	doc, err := client.Document(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "b", doc.Content["a"])

	op, err := client.PutDocument(ctx, "n1", api.PutDocumentRequest{Type: "note"})
	require.NoError(t, err)
	assert.Equal(t, "update", op.Type)

	op, err = client.DeleteDocument(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "delete", op.Type)
}

func TestClient_ErrorResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "Not Found", Message: "document not found"})
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "").Document(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "document not found")
	assert.Contains(t, err.Error(), "(404)")
}

func TestClient_ErrorWithoutJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "").Peers(context.Background())
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "status 502")
}

func TestClient_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "").Pairing(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode response")
}

func TestClient_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient(server.URL, "").Status(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
