package llm

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Shape extracts the completion text from one known response envelope.
// Extract reports false when the body does not have this shape.
type Shape struct {
	Name    string
	Extract func(body gjson.Result) (string, bool)
}

// DefaultShapes are tried in order until one matches.
var DefaultShapes = []Shape{
	{Name: "chat.message", Extract: stringAt("choices.0.message.content")},
	{Name: "completion.text", Extract: stringAt("choices.0.text")},
	{Name: "choice.content", Extract: contentParts("choices.0.content")},
}

func stringAt(path string) func(gjson.Result) (string, bool) {
	return func(body gjson.Result) (string, bool) {
		v := body.Get(path)
		if v.Type != gjson.String {
			return "", false
		}
		return v.String(), true
	}
}

// contentParts accepts either a plain string or an array of parts. Part texts
// are concatenated in order; parts without a "text" string contribute nothing,
// so an empty array yields an empty completion.
func contentParts(path string) func(gjson.Result) (string, bool) {
	return func(body gjson.Result) (string, bool) {
		v := body.Get(path)
		switch {
		case v.Type == gjson.String:
			return v.String(), true
		case v.IsArray():
			var sb strings.Builder
			for _, part := range v.Array() {
				if t := part.Get("text"); t.Type == gjson.String {
					sb.WriteString(t.String())
				}
			}
			return sb.String(), true
		default:
			return "", false
		}
	}
}

// matchShape runs the shapes against body and returns the first match.
func matchShape(body []byte, shapes []Shape) (string, string, bool) {
	if !gjson.ValidBytes(body) {
		return "", "", false
	}
	parsed := gjson.ParseBytes(body)
	for _, s := range shapes {
		if text, ok := s.Extract(parsed); ok {
			return text, s.Name, true
		}
	}
	return "", "", false
}

// errorObject returns the raw JSON of an "error" member, if present.
func errorObject(body []byte) (string, bool) {
	if !gjson.ValidBytes(body) {
		return "", false
	}
	e := gjson.GetBytes(body, "error")
	if !e.Exists() || e.Type == gjson.Null {
		return "", false
	}
	return e.Raw, true
}
