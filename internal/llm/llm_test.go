package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelforge/pkg/prompts"
)

func TestParseScript(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		wantErr    bool
		wantTitle  string
		wantScenes int
		wantTags   []string
	}{
		{
			name:       "plain json",
			content:    `{"title":"Why cats purr","caption":"Science!","hashtags":["#Cats","science","#cats"],"scenes":[{"narration":"Cats purr.","duration":4},{"narration":"Nobody knows why."}]}`,
			wantTitle:  "Why cats purr",
			wantScenes: 2,
			wantTags:   []string{"#cats", "#science"},
		},
		{
			name:       "fenced",
			content:    "```json\n{\"title\":\"\\\"Quoted\\\"\",\"scenes\":[{\"narration\":\"one\"}]}\n```",
			wantTitle:  "Quoted",
			wantScenes: 1,
			wantTags:   []string{},
		},
		{
			name:       "wrapped",
			content:    `{"script":{"title":"Inner","scenes":[{"narration":"a"},{"narration":"  "}]}}`,
			wantTitle:  "Inner",
			wantScenes: 1,
			wantTags:   []string{},
		},
		{name: "no scenes", content: `{"title":"x","scenes":[]}`, wantErr: true},
		{name: "not json", content: `Sure! Here is your script`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseScript(tt.content)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTitle, got.Title)
			assert.Len(t, got.Scenes, tt.wantScenes)
			assert.Equal(t, tt.wantTags, got.Hashtags)
			for _, sc := range got.Scenes {
				assert.Greater(t, sc.Duration, 0.0)
			}
		})
	}
}

func TestParseScriptEmptyIsSentinel(t *testing.T) {
	_, err := ParseScript(`{"scenes":[{"narration":""}]}`)
	assert.ErrorIs(t, err, ErrEmptyScript)
}

func TestRenderPrompts(t *testing.T) {
	p, err := prompts.Default()
	require.NoError(t, err)

	system, user, err := RenderPrompts(p, ScriptRequest{Topic: "black holes", DurationSeconds: 30, SceneCount: 6})
	require.NoError(t, err)
	assert.NotEmpty(t, system)
	assert.Contains(t, user, "black holes")
	assert.Contains(t, user, "30 second")
	assert.Contains(t, user, "6 scenes")
	assert.Contains(t, user, "English")
}
