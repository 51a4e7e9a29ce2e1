package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davide9292/v-try.app-sub001/internal/domain"
)

func testJob() *domain.GenerationJob {
	return &domain.GenerationJob{
		ID:      "job-1",
		OwnerID: "owner-1",
		Kind:    domain.KindImage,
		Payload: []byte(`{"garment":"jacket"}`),
	}
}

// fakeProviderServer simulates the submit-then-poll operation flow.
func fakeProviderServer(t *testing.T, polls []operationResponse) *httptest.Server {
	t.Helper()
	pollCount := 0
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/generations", func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "IMAGE", req.Kind)
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(submitResponse{OperationID: "op-1"})
	})
	mux.HandleFunc("GET /v1/operations/op-1", func(w http.ResponseWriter, _ *http.Request) {
		resp := polls[min(pollCount, len(polls)-1)]
		pollCount++
		_ = json.NewEncoder(w).Encode(resp)
	})
	return httptest.NewServer(mux)
}

func newTestClient(url string) *HTTPClient {
	return NewHTTPClient(Options{
		BaseURL:      url,
		Kind:         domain.KindImage,
		PollInterval: 5 * time.Millisecond,
	})
}

func TestHTTPClient_GenerateSucceedsAfterPolling(t *testing.T) {
	artifact := []byte("png-bytes")
	srv := fakeProviderServer(t, []operationResponse{
		{State: "running", Progress: 30},
		{State: "running", Progress: 70},
		{State: "succeeded", Result: base64.StdEncoding.EncodeToString(artifact), ContentType: "image/png"},
	})
	defer srv.Close()

	var progress []int
	res, err := newTestClient(srv.URL).Generate(context.Background(), testJob(), func(p int) {
		progress = append(progress, p)
	})
	require.NoError(t, err)
	assert.Equal(t, artifact, res.Data)
	assert.Equal(t, "image/png", res.ContentType)
	assert.Equal(t, []int{30, 70, 100}, progress)
}

func TestHTTPClient_ProviderReportsFatalFailure(t *testing.T) {
	polls := []operationResponse{{State: "failed"}}
	polls[0].Error.Code = "bad_input"
	polls[0].Error.Message = "garment image unreadable"
	polls[0].Error.Retryable = false
	srv := fakeProviderServer(t, polls)
	defer srv.Close()

	_, err := newTestClient(srv.URL).Generate(context.Background(), testJob(), nil)
	require.Error(t, err)
	assert.False(t, Retryable(err))
	assert.Equal(t, domain.JobError{Code: "bad_input", Message: "garment image unreadable"}, JobError(err))
}

func TestHTTPClient_SubmitRejected4xxIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unsupported payload", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Generate(context.Background(), testJob(), nil)
	require.Error(t, err)
	assert.False(t, Retryable(err))
}

func TestHTTPClient_Submit5xxIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Generate(context.Background(), testJob(), nil)
	require.Error(t, err)
	assert.True(t, Retryable(err))
}

func TestHTTPClient_ContextDeadlineIsRetryableTimeout(t *testing.T) {
	srv := fakeProviderServer(t, []operationResponse{{State: "running", Progress: 10}})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := newTestClient(srv.URL).Generate(ctx, testJob(), nil)
	require.Error(t, err)
	assert.True(t, Retryable(err))
	assert.Equal(t, CodeTimeout, JobError(err).Code)
}

func TestRegistry_GetUnknownKindIsFatal(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get(domain.KindVideo)
	require.Error(t, err)
	assert.False(t, Retryable(err))
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	c := NewHTTPClient(Options{BaseURL: "http://example.invalid", Kind: domain.KindVideo})
	reg.Register(c)

	got, err := reg.Get(domain.KindVideo)
	require.NoError(t, err)
	assert.Equal(t, domain.KindVideo, got.Kind())
}
