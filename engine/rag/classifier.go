package rag

import (
	"strings"

	"github.com/CodeChampian/safebot/engine/domain"
)

// DefaultClassifierWindow is how many leading characters KeywordClassifier scans.
const DefaultClassifierWindow = 50

// Classifier maps the model's free-text answer to a risk level.
type Classifier interface {
	Classify(answer string) domain.RiskLevel
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(string) domain.RiskLevel

func (f ClassifierFunc) Classify(answer string) domain.RiskLevel { return f(answer) }

// KeywordClassifier looks for the literal words "High" then "Low" at the start
// of the answer and falls back to Moderate. Matching is case-sensitive.
type KeywordClassifier struct {
	Window int
}

// Classify implements Classifier.
func (k KeywordClassifier) Classify(answer string) domain.RiskLevel {
	window := k.Window
	if window <= 0 {
		window = DefaultClassifierWindow
	}
	head := answer
	if r := []rune(answer); len(r) > window {
		head = string(r[:window])
	}
	switch {
	case strings.Contains(head, string(domain.RiskHigh)):
		return domain.RiskHigh
	case strings.Contains(head, string(domain.RiskLow)):
		return domain.RiskLow
	default:
		return domain.RiskModerate
	}
}
