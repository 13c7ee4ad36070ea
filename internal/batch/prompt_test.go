package batch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestBuildSystemPrompt(t *testing.T) {
	t.Parallel()

	prompt := BuildSystemPrompt(language.English, language.SimplifiedChinese)
	assert.Contains(t, prompt, "English")
	assert.Contains(t, prompt, "Chinese")
	assert.Contains(t, prompt, "~p0:")
	assert.Contains(t, prompt, "same id")
	assert.Contains(t, prompt, `{"cues":`)
}

func TestBuildSystemPrompt_UndeterminedSource(t *testing.T) {
	t.Parallel()

	prompt := BuildSystemPrompt(language.Und, language.Japanese)
	assert.Contains(t, prompt, "the source language")
	assert.Contains(t, prompt, "Japanese")
}

func TestBuildUserPrompt(t *testing.T) {
	t.Parallel()

	got, err := BuildUserPrompt([]Item{
		{ID: "a", Text: "hello ~p0:world~p1:"},
		{ID: "b", Text: ""},
	})
	require.NoError(t, err)

	var back []Item
	require.NoError(t, json.Unmarshal([]byte(got), &back))
	require.Len(t, back, 2)
	assert.Equal(t, "hello ~p0:world~p1:", back[0].Text)
	assert.Equal(t, "b", back[1].ID)
}

func TestResponseSchema(t *testing.T) {
	t.Parallel()

	schema := ResponseSchema()
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, false, schema["additionalProperties"])

	props, ok := schema["properties"].(map[string]interface{})
	require.True(t, ok)
	cues, ok := props["cues"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "array", cues["type"])

	items, ok := cues["items"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, items["additionalProperties"])

	required, ok := items["required"].([]string)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"id", "text"}, required)
}
