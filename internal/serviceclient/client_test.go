package serviceclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/workflow_platform/internal/jsonvalue"
)

func TestClientCallReturnsFirstCandidateResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := New(StaticRegistry{"svc": {srv.URL}}, DefaultConfig())
	result, err := client.Call(context.Background(), "svc", "/run", jsonvalue.MustFromAny(map[string]any{"a": 1}))
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, result.Decode(&decoded))
	assert.Equal(t, true, decoded["ok"])
}

func TestClientCallFallsBackToNextCandidateOn5xx(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer good.Close()

	cfg := DefaultConfig()
	cfg.Retry.MaxAttempts = 1
	client := New(StaticRegistry{"svc": {bad.URL, good.URL}}, cfg)
	result, err := client.Call(context.Background(), "svc", "/run", jsonvalue.Null)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, result.Decode(&decoded))
	assert.Equal(t, true, decoded["ok"])
}

func TestClientCallReturnsErrorWhenNoCandidatesRegistered(t *testing.T) {
	client := New(StaticRegistry{}, DefaultConfig())
	_, err := client.Call(context.Background(), "svc", "/run", jsonvalue.Null)
	assert.Error(t, err)
}

func TestClientCallReturnsErrorWhenAllCandidatesFail(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	cfg := DefaultConfig()
	cfg.Retry.MaxAttempts = 1
	client := New(StaticRegistry{"svc": {bad.URL}}, cfg)
	_, err := client.Call(context.Background(), "svc", "/run", jsonvalue.Null)
	assert.Error(t, err)
}
