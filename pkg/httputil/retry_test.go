package httputil

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetryClientStatusHandling(t *testing.T) {
	tests := []struct {
		name         string
		failStatus   int
		failures     int32
		wantStatus   int
		wantAttempts int32
	}{
		{"retries 503", http.StatusServiceUnavailable, 2, http.StatusOK, 3},
		{"retries 500", http.StatusInternalServerError, 1, http.StatusOK, 2},
		{"retries 502", http.StatusBadGateway, 1, http.StatusOK, 2},
		{"retries 429", http.StatusTooManyRequests, 1, http.StatusOK, 2},
		{"no retry on 400", http.StatusBadRequest, 10, http.StatusBadRequest, 1},
		{"no retry on 401", http.StatusUnauthorized, 10, http.StatusUnauthorized, 1},
		{"no retry on 404", http.StatusNotFound, 10, http.StatusNotFound, 1},
		{"gives up after max retries", http.StatusServiceUnavailable, 10, http.StatusServiceUnavailable, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if atomic.AddInt32(&attempts, 1) <= tt.failures {
					w.WriteHeader(tt.failStatus)
					return
				}
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			client := NewRetryClient(server.Client(), fastConfig())
			req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
			resp, err := client.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantAttempts, atomic.LoadInt32(&attempts))
		})
	}
}

func TestRetryClientResendsBody(t *testing.T) {
	var attempts int32
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(body))
		if atomic.AddInt32(&attempts, 1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	const content = "scene payload"
	req, _ := http.NewRequest(http.MethodPost, server.URL, strings.NewReader(content))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(content)), nil
	}

	resp, err := NewRetryClient(server.Client(), fastConfig()).Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, []string{content, content}, bodies)
}

func TestRetryClientHonorsRetryAfter(t *testing.T) {
	var attempts int32
	var first, second time.Time
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			first = time.Now()
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		second = time.Now()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewRetryClient(server.Client(), RetryConfig{
		MaxRetries:   2,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
	})
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.GreaterOrEqual(t, second.Sub(first), 900*time.Millisecond)
}

func TestRetryClientStopsOnContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewRetryClient(server.Client(), RetryConfig{
		MaxRetries:   5,
		InitialDelay: time.Second,
		MaxDelay:     time.Second,
		Multiplier:   1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)

	start := time.Now()
	_, err := client.Do(req)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestDoJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"prompt":"octopus"}`, string(body))
		_, _ = w.Write([]byte(`{"id":"job-1"}`))
	}))
	defer server.Close()

	var out struct {
		ID string `json:"id"`
	}
	header := http.Header{}
	header.Set("X-Api-Key", "secret")
	err := NewRetryClient(server.Client(), fastConfig()).
		DoJSON(context.Background(), http.MethodPost, server.URL, header, map[string]string{"prompt": "octopus"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "job-1", out.ID)
}

func TestDoJSONStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"avatar image required"}`))
	}))
	defer server.Close()

	err := NewRetryClient(server.Client(), fastConfig()).
		DoJSON(context.Background(), http.MethodGet, server.URL, nil, nil, nil)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnprocessableEntity, statusErr.StatusCode)
	assert.True(t, statusErr.ClientError())
	assert.Contains(t, statusErr.Body, "avatar image required")
}

func TestNewRetryClientAppliesDefaults(t *testing.T) {
	client := NewRetryClient(nil, RetryConfig{})

	assert.Same(t, http.DefaultClient, client.client)
	assert.Equal(t, DefaultRetryConfig(), client.config)
}

func TestStatusErrorClientError(t *testing.T) {
	assert.False(t, (&StatusError{StatusCode: http.StatusTooManyRequests}).ClientError())
	assert.False(t, (&StatusError{StatusCode: http.StatusBadGateway}).ClientError())
	assert.True(t, (&StatusError{StatusCode: http.StatusForbidden}).ClientError())
}

func TestStatusErrorMalformed(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusUnprocessableEntity, true},
		{http.StatusUnauthorized, false},
		{http.StatusPaymentRequired, false},
		{http.StatusForbidden, false},
		{http.StatusNotFound, false},
		{http.StatusRequestTimeout, false},
		{http.StatusTooManyRequests, false},
		{http.StatusBadGateway, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, (&StatusError{StatusCode: tt.status}).Malformed())
		})
	}
}
