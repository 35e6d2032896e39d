package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelforge/internal/speech"
)

func mockTimestampResponse(audio []byte) []byte {
	resp := timestampResponse{
		AudioBase64: base64.StdEncoding.EncodeToString(audio),
		Alignment: &alignment{
			Characters:          []string{"H", "e", "l", "l", "o", " ", "w", "o", "r", "l", "d"},
			CharacterStartTimes: []float64{0.0, 0.05, 0.1, 0.15, 0.2, 0.25, 0.3, 0.35, 0.4, 0.45, 0.5},
			CharacterEndTimes:   []float64{0.05, 0.1, 0.15, 0.2, 0.25, 0.3, 0.35, 0.4, 0.45, 0.5, 0.55},
		},
	}
	data, _ := json.Marshal(resp)
	return data
}

func TestNewClient(t *testing.T) {
	client := NewClient(Config{APIKeys: []string{"test-key"}, VoiceID: "test-voice", Speed: 1.0})

	assert.Equal(t, []string{"test-key"}, client.apiKeys)
	assert.Equal(t, "test-voice", client.defaults.VoiceID)
	assert.Equal(t, defaultModel, client.model)
}

func TestSynthesize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("xi-api-key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "/text-to-speech/test-voice/with-timestamps", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		settings := body["voice_settings"].(map[string]any)
		assert.Equal(t, 0.5, settings["stability"])

		_, _ = w.Write(mockTimestampResponse([]byte("fake audio data")))
	}))
	defer server.Close()

	client := NewClient(Config{
		APIKeys:    []string{"test-key"},
		VoiceID:    "test-voice",
		Speed:      1.0,
		Stability:  0.5,
		Similarity: 0.75,
	}, withBaseURL(server.URL), withHTTPClient(server.Client()))

	result, err := client.Synthesize(context.Background(), "Hello world", speech.VoiceOptions{})
	require.NoError(t, err)

	assert.Equal(t, "fake audio data", string(result.Audio))
	assert.Equal(t, "mp3", result.Format)
	require.Len(t, result.Timings, 2)
	assert.Equal(t, "Hello", result.Timings[0].Word)
	assert.Equal(t, "world", result.Timings[1].Word)
	assert.InDelta(t, 0.55, result.Duration, 0.001)
}

func TestSynthesizeVoiceOverride(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/text-to-speech/custom-voice/with-timestamps", r.URL.Path)
		_, _ = w.Write(mockTimestampResponse([]byte("audio")))
	}))
	defer server.Close()

	client := NewClient(Config{APIKeys: []string{"k"}, VoiceID: "default-voice"},
		withBaseURL(server.URL), withHTTPClient(server.Client()))

	_, err := client.Synthesize(context.Background(), "Hello", speech.VoiceOptions{VoiceID: "custom-voice"})
	require.NoError(t, err)
}

func TestSynthesizeEmptyAudio(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"audio_base64":""}`))
	}))
	defer server.Close()

	client := NewClient(Config{VoiceID: "v"}, withBaseURL(server.URL), withHTTPClient(server.Client()))
	_, err := client.Synthesize(context.Background(), "Hello", speech.VoiceOptions{})
	assert.ErrorIs(t, err, speech.ErrNoAudio)
}

func TestSynthesizeAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": "invalid api key"}`))
	}))
	defer server.Close()

	client := NewClient(Config{APIKeys: []string{"bad-key"}, VoiceID: "v"},
		withBaseURL(server.URL), withHTTPClient(server.Client()))

	_, err := client.Synthesize(context.Background(), "Hello", speech.VoiceOptions{})
	assert.Error(t, err)
}

func TestSynthesizeRotatesKeysOnQuota(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("xi-api-key") == "exhausted" {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"detail":{"status":"quota_exceeded"}}`))
			return
		}
		_, _ = w.Write(mockTimestampResponse([]byte("audio")))
	}))
	defer server.Close()

	client := NewClient(Config{APIKeys: []string{"exhausted", "exhausted", "fresh"}, VoiceID: "v"},
		withBaseURL(server.URL), withHTTPClient(server.Client()))

	_, err := client.Synthesize(context.Background(), "Hello", speech.VoiceOptions{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}

func TestParseTimingsNoAlignment(t *testing.T) {
	timings := parseTimings("Hello world", nil, make([]byte, 16000))
	assert.Len(t, timings, 2)
}

func TestKeyRotation(t *testing.T) {
	keys := []string{"key1", "key2", "key3"}
	client := NewClient(Config{APIKeys: keys})

	seen := make(map[string]int)
	for range 6 {
		seen[client.nextAPIKey()]++
	}

	for _, k := range keys {
		assert.Equal(t, 2, seen[k], "key %q", k)
	}
}

func TestKeyRotationSingleKey(t *testing.T) {
	client := NewClient(Config{APIKeys: []string{"single-key"}})

	for range 5 {
		assert.Equal(t, "single-key", client.nextAPIKey())
	}
}
