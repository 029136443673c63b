package utils

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// CleanJSON returns JSON by trimming prefixes and postfixes,
// this is more useful than TrimBackticks,
// as LLM can reply like,
// `Here you go: {json}`
func CleanJSON(bs []byte) []byte {
	trimmedPrefix := trimPrefixBeforeJSON(bs)
	trimmedJSON := trimPostfixAfterJSON(trimmedPrefix)
	return trimmedJSON
}

// Removes any prefixes before the JSON (like "Sure, here you go:")
func trimPrefixBeforeJSON(bs []byte) []byte {
	startObject := bytes.IndexByte(bs, '{')
	startArray := bytes.IndexByte(bs, '[')

	var start int
	if startObject == -1 && startArray == -1 {
		return bs // No opening brace or bracket found, return the original string
	} else if startObject == -1 {
		start = startArray
	} else if startArray == -1 {
		start = startObject
	} else {
		start = min(startObject, startArray)
	}

	return bs[start:]
}

// Removes any postfixes after the JSON
func trimPostfixAfterJSON(bs []byte) []byte {
	endObject := bytes.LastIndexByte(bs, '}')
	endArray := bytes.LastIndexByte(bs, ']')

	var end int
	if endObject == -1 && endArray == -1 {
		return bs // No closing brace or bracket found, return the original string
	} else if endObject == -1 {
		end = endArray
	} else if endArray == -1 {
		end = endObject
	} else {
		end = max(endObject, endArray)
	}

	return bs[:end+1]
}

// ParseArguments decodes the raw JSON arguments of a tool call into a map.
// Blank input is treated as an empty object, as some vendors send
// no arguments at all for parameterless tools.
func ParseArguments(raw string) (map[string]any, error) {
	args := map[string]any{}
	bs := bytes.TrimSpace([]byte(raw))
	if len(bs) == 0 {
		return args, nil
	}
	if err := json.Unmarshal(CleanJSON(bs), &args); err != nil {
		return nil, errors.Wrap(err, "failed to parse arguments")
	}
	if args == nil {
		// `null` decodes into a nil map
		args = map[string]any{}
	}
	return args, nil
}

func ToJSON(val any) string {
	js, _ := json.Marshal(val)
	return string(js)
}

func ToJSONIndent(val any) string {
	js, _ := json.MarshalIndent(val, "", "\t")
	return string(js)
}

func ToYAML(val any) string {
	js, _ := yaml.Marshal(val)
	return string(js)
}

// Stringify returns the text form of a tool output:
// strings are returned as is, Stringers are formatted,
// everything else is serialized to JSON.
func Stringify(s any) string {
	switch v := s.(type) {
	case nil:
		return "null"
	case string:
		return v
	case interface{ String() string }:
		return v.String()
	}
	return ToJSON(s)
}

// Truncate shortens the text for logging
func Truncate(s string, size int) string {
	s = strings.TrimSpace(s)
	if size <= 0 || len(s) <= size {
		return s
	}
	return s[:size] + "..."
}
