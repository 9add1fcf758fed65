package roles

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractJSONFencedBlock(t *testing.T) {
	text := "Here is the plan:\n```json\n[{\"title\":\"A\"}]\n```\nThanks."
	var out []map[string]string
	require.NoError(t, ExtractJSON(text, &out))
	require.Equal(t, "A", out[0]["title"])
}

func TestExtractJSONBareArray(t *testing.T) {
	text := "some preamble [{\"title\":\"B\"}] trailing"
	var out []map[string]string
	require.NoError(t, ExtractJSON(text, &out))
	require.Equal(t, "B", out[0]["title"])
}

func TestExtractJSONBareObjectWithSurroundingWhitespace(t *testing.T) {
	text := "  {\"verdict\":\"approved\"}  "
	var out map[string]string
	require.NoError(t, ExtractJSON(text, &out))
	require.Equal(t, "approved", out["verdict"])
}

func TestExtractJSONFailure(t *testing.T) {
	var out map[string]string
	err := ExtractJSON("not json at all", &out)
	require.Error(t, err)
}
