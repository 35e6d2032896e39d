package imagegen

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	png := []byte("\x89PNG fake")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/images/generations", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "a red fox at dawn", req["prompt"])
		assert.Equal(t, "b64_json", req["response_format"])
		assert.Equal(t, "hd", req["quality"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"created": 1,
			"data":    []map[string]any{{"b64_json": base64.StdEncoding.EncodeToString(png)}},
		})
	}))
	defer server.Close()

	g := NewOpenAI(Config{APIKey: "k", BaseURL: server.URL})
	img, err := g.Generate(context.Background(), "a red fox at dawn", Options{Quality: "hd"})
	require.NoError(t, err)
	assert.Equal(t, png, img.Data)
	assert.Equal(t, "png", img.Format)
}

func TestGenerateEmptyData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"created":1,"data":[]}`))
	}))
	defer server.Close()

	g := NewOpenAI(Config{APIKey: "k", BaseURL: server.URL})
	_, err := g.Generate(context.Background(), "anything", Options{})
	assert.ErrorContains(t, err, "no image")
}

func TestGenerateEmptyPrompt(t *testing.T) {
	_, err := NewOpenAI(Config{}).Generate(context.Background(), "", Options{})
	assert.Error(t, err)
}
