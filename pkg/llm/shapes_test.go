package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchShape(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantText  string
		wantShape string
		wantOK    bool
	}{
		{"chat message", `{"choices":[{"message":{"content":"High risk"}}]}`, "High risk", "chat.message", true},
		{"text completion", `{"choices":[{"text":"Low risk"}]}`, "Low risk", "completion.text", true},
		{"content string", `{"choices":[{"content":"Moderate"}]}`, "Moderate", "choice.content", true},
		{"content parts", `{"choices":[{"content":[{"type":"text","text":"High "},{"type":"image"},{"text":"risk"}]}]}`, "High risk", "choice.content", true},
		{"message wins over text", `{"choices":[{"message":{"content":"a"},"text":"b"}]}`, "a", "chat.message", true},
		{"null message falls through", `{"choices":[{"message":{"content":null},"text":"b"}]}`, "b", "completion.text", true},
		{"empty string content", `{"choices":[{"message":{"content":""}}]}`, "", "chat.message", true},
		{"parts without text", `{"choices":[{"content":[{"type":"image"}]}]}`, "", "choice.content", true},
		{"empty parts", `{"choices":[{"content":[]}]}`, "", "choice.content", true},
		{"content object", `{"choices":[{"content":{"text":"x"}}]}`, "", "", false},
		{"no choices", `{"id":"x"}`, "", "", false},
		{"not json", `<html>bad gateway</html>`, "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, shape, ok := matchShape([]byte(tt.body), DefaultShapes)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantText, text)
			assert.Equal(t, tt.wantShape, shape)
		})
	}
}

func TestErrorObject(t *testing.T) {
	payload, ok := errorObject([]byte(`{"error":{"message":"quota","code":429}}`))
	assert.True(t, ok)
	assert.JSONEq(t, `{"message":"quota","code":429}`, payload)

	_, ok = errorObject([]byte(`{"error":null}`))
	assert.False(t, ok)

	_, ok = errorObject([]byte(`{"choices":[]}`))
	assert.False(t, ok)
}
