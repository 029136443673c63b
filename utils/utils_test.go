package utils_test

import (
	"testing"

	"github.com/effective-security/opsagent/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_CleanJSON(t *testing.T) {
	llmOutput := "\n```json\n\n{\"command\": \"ls\", \"workingDirectory\": \"/tmp\"}\n\n```\n\n"
	clean := utils.CleanJSON([]byte(llmOutput))

	expected := "{\"command\": \"ls\", \"workingDirectory\": \"/tmp\"}"
	assert.Equal(t, expected, string(clean))

	llmOutput = "Here you go:\n```json\n\n[{\"command\": \"ls\"}]\n```\n\n"
	clean = utils.CleanJSON([]byte(llmOutput))

	expected = "[{\"command\": \"ls\"}]"
	assert.Equal(t, expected, string(clean))
}

func Test_ParseArguments(t *testing.T) {
	tcases := []struct {
		raw string
		exp map[string]any
		err string
	}{
		{raw: "", exp: map[string]any{}},
		{raw: "  ", exp: map[string]any{}},
		{raw: "null", exp: map[string]any{}},
		{raw: "{}", exp: map[string]any{}},
		{raw: `{"command":"ls /tmp"}`, exp: map[string]any{"command": "ls /tmp"}},
		{raw: "```json\n{\"n\": 1}\n```", exp: map[string]any{"n": float64(1)}},
		{raw: `{"command":`, err: "failed to parse arguments"},
		{raw: `["ls"]`, err: "failed to parse arguments"},
	}

	for _, tc := range tcases {
		t.Run(tc.raw, func(t *testing.T) {
			args, err := utils.ParseArguments(tc.raw)
			if tc.err != "" {
				assert.ErrorContains(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.exp, args)
		})
	}
}

type named struct {
	Name string `json:"name" yaml:"name"`
}

func (n named) String() string {
	return "name=" + n.Name
}

func Test_Stringify(t *testing.T) {
	assert.Equal(t, "null", utils.Stringify(nil))
	assert.Equal(t, "text", utils.Stringify("text"))
	assert.Equal(t, "name=x", utils.Stringify(named{Name: "x"}))
	assert.Equal(t, `{"total":2}`, utils.Stringify(map[string]any{"total": 2}))
	assert.Equal(t, `[1,2]`, utils.Stringify([]int{1, 2}))

	assert.Equal(t, "{\n\t\"name\": \"x\"\n}", utils.ToJSONIndent(named{Name: "x"}))
	assert.Equal(t, "name: x\n", utils.ToYAML(named{Name: "x"}))
}

func Test_Truncate(t *testing.T) {
	assert.Equal(t, "abc", utils.Truncate(" abc ", 10))
	assert.Equal(t, "ab...", utils.Truncate("abcdef", 2))
	assert.Equal(t, "abcdef", utils.Truncate("abcdef", 0))
}
