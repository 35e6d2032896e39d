package groq

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelforge/internal/llm"
	"reelforge/pkg/prompts"
)

func groqResponse(content string) map[string]any {
	return map[string]any{
		"id":      "test-id",
		"object":  "chat.completion",
		"created": 1234567890,
		"model":   "llama3-8b-8192",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	}
}

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	p, err := prompts.Default()
	require.NoError(t, err)

	c, err := NewClient(Config{APIKey: "test-api-key", Model: "llama3-8b-8192", BaseURL: serverURL + "/"}, p)
	require.NoError(t, err)
	return c
}

func TestGenerateScript(t *testing.T) {
	tests := []struct {
		name           string
		statusCode     int
		body           string
		wantErrContain string
		wantTitle      string
	}{
		{
			name:       "successfulGeneration",
			statusCode: http.StatusOK,
			body:       mustJSON(t, groqResponse(`{"title":"Space is big","hashtags":["#space"],"scenes":[{"narration":"Look up.","duration":3}]}`)),
			wantTitle:  "Space is big",
		},
		{
			name:           "emptyResponse",
			statusCode:     http.StatusOK,
			body:           mustJSON(t, groqResponse("")),
			wantErrContain: "empty response",
		},
		{
			name:           "malformedScript",
			statusCode:     http.StatusOK,
			body:           mustJSON(t, groqResponse("not json at all")),
			wantErrContain: "parse response",
		},
		{
			name:           "httpErrorUnauthorized",
			statusCode:     http.StatusUnauthorized,
			body:           `{"error": {"message": "invalid api key", "type": "authentication_error"}}`,
			wantErrContain: "generate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := newTestClient(t, server.URL)
			got, err := client.GenerateScript(context.Background(), llm.ScriptRequest{Topic: "space", DurationSeconds: 15, SceneCount: 3})

			if tt.wantErrContain != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErrContain)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTitle, got.Title)
			assert.Len(t, got.Scenes, 1)
		})
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}
