package llmjson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scored struct {
	Score     int    `json:"score"`
	Rationale string `json:"rationale"`
}

func TestDecode_Plain(t *testing.T) {
	var v scored
	require.NoError(t, Decode(`{"score": 85, "rationale": "strong overlap"}`, &v))
	assert.Equal(t, 85, v.Score)
}

func TestDecode_Fenced(t *testing.T) {
	var v scored
	text := "```json\n{\"score\": 42, \"rationale\": \"ok\"}\n```"
	require.NoError(t, Decode(text, &v))
	assert.Equal(t, 42, v.Score)
}

func TestDecode_ProseWrapped(t *testing.T) {
	var v scored
	text := `Here is the assessment you asked for:
{"score": 70, "rationale": "shared goals"}
Let me know if you need anything else.`
	require.NoError(t, Decode(text, &v))
	assert.Equal(t, 70, v.Score)
	assert.Equal(t, "shared goals", v.Rationale)
}

func TestDecode_Array(t *testing.T) {
	var v []string
	require.NoError(t, Decode("The questions are:\n[\"a\", \"b\"]", &v))
	assert.Equal(t, []string{"a", "b"}, v)
}

func TestDecode_RepairedKeys(t *testing.T) {
	var v scored
	require.NoError(t, Decode(`{score": 9, rationale": "x"}`, &v))
	assert.Equal(t, 9, v.Score)
	assert.Equal(t, "x", v.Rationale)
}

func TestDecode_Invalid(t *testing.T) {
	var v scored
	assert.Error(t, Decode("I cannot produce JSON for that.", &v))
	assert.Error(t, Decode("", &v))
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripFences(`{"a":1}`))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "ab...", Truncate("abcdef", 2))
}
