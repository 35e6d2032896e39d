package did

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelforge/internal/apperr"
	"reelforge/internal/provider"
)

func TestSubmit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/talks", r.URL.Path)
		assert.Equal(t, "Basic secret", r.Header.Get("Authorization"))

		var req talkRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://img/face.png", req.SourceURL)
		assert.Equal(t, "Hi", req.Script.Input)
		require.NotNil(t, req.Script.Provider)
		assert.Equal(t, "voice-1", req.Script.Provider.VoiceID)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"tlk_1","status":"created"}`))
	}))
	defer server.Close()

	c := NewClient(Config{APIKey: "secret", BaseURL: server.URL}, withHTTPClient(server.Client()))
	id, err := c.Submit(context.Background(), provider.Params{
		Script:         "Hi",
		AvatarImageURL: "https://img/face.png",
		VoiceID:        "voice-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "tlk_1", id)
}

func TestSubmitValidation(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://unused"})
	_, err := c.Submit(context.Background(), provider.Params{})

	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindValidation, appErr.Kind)
	assert.Len(t, appErr.Violations, 2)
}

func TestSubmitRejectedByRemote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"kind":"ValidationError","description":"no face"}`))
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL, DefaultAvatar: "https://img/x.png"}, withHTTPClient(server.Client()))
	_, err := c.Submit(context.Background(), provider.Params{Script: "x"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestPollNormalizesStatus(t *testing.T) {
	tests := []struct {
		native  string
		want    provider.Status
		wantErr string
	}{
		{native: "created", want: provider.StatusProcessing},
		{native: "started", want: provider.StatusProcessing},
		{native: "done", want: provider.StatusSuccess},
		{native: "error", want: provider.StatusError, wantErr: "no face"},
		{native: "rejected", want: provider.StatusError, wantErr: "no face"},
	}

	for _, tt := range tests {
		t.Run(tt.native, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/talks/tlk_1", r.URL.Path)
				_ = json.NewEncoder(w).Encode(talkResponse{
					ID:        "tlk_1",
					Status:    tt.native,
					ResultURL: "https://cdn/t.mp4",
					Error:     &apiErr{Description: "no face"},
				})
			}))
			defer server.Close()

			c := NewClient(Config{BaseURL: server.URL}, withHTTPClient(server.Client()))
			res, err := c.Poll(context.Background(), "tlk_1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Status)
			assert.Equal(t, tt.wantErr, res.Error)
		})
	}
}
