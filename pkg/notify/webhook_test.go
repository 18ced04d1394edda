package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastBackOff() Option {
	return withBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} })
}

func TestSendPostsRawJSON(t *testing.T) {
	var got []byte
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		contentType = r.Header.Get("Content-Type")
		got, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSender(fastBackOff())
	require.NoError(t, s.Send(context.Background(), srv.URL, []byte(`{"passed":true}`)))
	assert.Equal(t, `{"passed":true}`, string(got))
	assert.Equal(t, "application/json", contentType)
}

func TestSendEncodesValues(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	payload := map[string]any{"profile_name": nil, "error": "Validation failed"}
	require.NoError(t, NewSender(fastBackOff()).Send(context.Background(), srv.URL, payload))
	assert.Equal(t, "Validation failed", got["error"])
	assert.Contains(t, got, "profile_name")
}

func TestSendRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewSender(fastBackOff(), WithRetries(2)).Send(context.Background(), srv.URL, []byte(`{}`)))
	assert.Equal(t, int32(3), calls.Load())
}

func TestSendGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewSender(fastBackOff(), WithRetries(1)).Send(context.Background(), srv.URL, []byte(`{}`))
	assert.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSendDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewSender(fastBackOff(), WithRetries(3)).Send(context.Background(), srv.URL, []byte(`{}`))
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSendTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	err := NewSender(fastBackOff(), WithRetries(0), WithTimeout(50*time.Millisecond)).Send(context.Background(), srv.URL, []byte(`{}`))
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestNotifyIgnoresFailures(t *testing.T) {
	s := NewSender(fastBackOff(), WithRetries(0))
	assert.NotPanics(t, func() {
		s.Notify(context.Background(), "http://127.0.0.1:1/unreachable", []byte(`{}`))
		s.Notify(context.Background(), "", []byte(`{}`))
		s.Notify(context.Background(), "://bad-url", []byte(`{}`))
	})
}
