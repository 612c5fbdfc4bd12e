// Package rag orchestrates the supplier risk assessment pipeline.
// It asks the model for a hypothetical answer to the question, embeds that
// answer, searches the vendor-scoped chunks, keeps the strongest evidence,
// and asks the model for a final Low/Moderate/High verdict.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/CodeChampian/safebot/engine/domain"
	"github.com/CodeChampian/safebot/engine/semantic"
	"github.com/CodeChampian/safebot/pkg/llm"
	"github.com/CodeChampian/safebot/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Summaries returned when retrieval finds nothing usable.
const (
	NoMatchesSummary  = "No relevant material found."
	NoRelevantSummary = "No sufficiently relevant content found."
)

var tracer = otel.Tracer("engine/rag")

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the read side of the vector store.
type Searcher interface {
	SearchFiltered(ctx context.Context, embedding []float32, topK int, filter *semantic.Filter) ([]domain.ScoredMatch, error)
}

// Options configures the pipeline behaviour.
type Options struct {
	// SearchTopK is how many nearest chunks one search returns.
	SearchTopK int
	// EvidenceK caps the chunks kept as reference context.
	EvidenceK int
	// MinScore drops matches scoring below it.
	MinScore float32

	HypothesisTemperature float64
	HypothesisMaxTokens   int
	AnswerTemperature     float64
	AnswerMaxTokens       int

	// IncludeHypothesis appends the hypothetical answer to the final prompt.
	IncludeHypothesis bool
	// Dimensions, when set, is checked against the query embedding.
	Dimensions    int
	SearchTimeout time.Duration
}

// DefaultOptions returns the standard retrieval settings.
func DefaultOptions() Options {
	return Options{
		SearchTopK:            8,
		EvidenceK:             3,
		MinScore:              0.10,
		HypothesisTemperature: 0.7,
		HypothesisMaxTokens:   200,
		AnswerTemperature:     0,
		Dimensions:            384,
		SearchTimeout:         10 * time.Second,
	}
}

// Deps holds the collaborators of the pipeline.
type Deps struct {
	Gateway    llm.Completer
	Embedder   Embedder
	Store      Searcher
	Classifier Classifier
	Logger     *slog.Logger
	Metrics    *Metrics
}

// Metrics are the assessment counters exposed at /metrics.
type Metrics struct {
	Verdicts   func(level domain.RiskLevel) *metrics.Counter
	EarlyExits func(reason string) *metrics.Counter
	Failures   func(step string) *metrics.Counter
	Duration   *metrics.Histogram
}

// NewMetrics registers the assessment metrics on reg.
func NewMetrics(reg *metrics.Registry) *Metrics {
	return &Metrics{
		Verdicts: func(level domain.RiskLevel) *metrics.Counter {
			return reg.Counter(metrics.WithLabels("safebot_assessments_total", "risk_level", string(level)), "Completed risk assessments by level")
		},
		EarlyExits: func(reason string) *metrics.Counter {
			return reg.Counter(metrics.WithLabels("safebot_assessment_early_exits_total", "reason", reason), "Assessments answered without the final model call")
		},
		Failures: func(step string) *metrics.Counter {
			return reg.Counter(metrics.WithLabels("safebot_assessment_failures_total", "step", step), "Assessment failures by step")
		},
		Duration: reg.Histogram("safebot_assessment_duration_seconds", "End-to-end assessment latency", nil),
	}
}

// Service is the risk assessment service. It holds no per-request state and
// is safe for concurrent use.
type Service struct {
	deps       Deps
	opts       Options
	classifier Classifier
	logger     *slog.Logger
}

// New creates a new risk assessment Service. Non-positive counts fall back to
// DefaultOptions.
func New(deps Deps, opts Options) *Service {
	def := DefaultOptions()
	if opts.SearchTopK <= 0 {
		opts.SearchTopK = def.SearchTopK
	}
	if opts.EvidenceK <= 0 {
		opts.EvidenceK = def.EvidenceK
	}
	if opts.HypothesisMaxTokens <= 0 {
		opts.HypothesisMaxTokens = def.HypothesisMaxTokens
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	classifier := deps.Classifier
	if classifier == nil {
		classifier = KeywordClassifier{Window: DefaultClassifierWindow}
	}
	return &Service{deps: deps, opts: opts, classifier: classifier, logger: logger}
}

// Options returns the effective options.
func (s *Service) Options() Options { return s.opts }

// Assess runs the full pipeline for one risk question. An empty vendorIDs
// searches every vendor; several ids match chunks of any of them.
func (s *Service) Assess(ctx context.Context, query string, vendorIDs []string) (*domain.Verdict, error) {
	start := time.Now()
	q, err := domain.NormalizeQuery(domain.Query{Text: query, VendorIDs: vendorIDs})
	if err != nil {
		return nil, fmt.Errorf("rag: %w", err)
	}

	ctx, span := tracer.Start(ctx, "rag.assess", trace.WithAttributes(
		attribute.StringSlice("vendor_ids", q.VendorIDs),
	))
	defer span.End()
	log := s.logger.With("vendor_ids", q.VendorIDs)
	log.Info("rag assess start", "query_len", len(q.Text))

	// 1. Hypothetical answer.
	hypothesis, err := s.hypothesize(ctx, q.Text)
	if err != nil {
		return nil, s.fail(span, "ssr", err)
	}
	log.Debug("rag hypothesis done", "step", "ssr", "duration", time.Since(start), "hypothesis_len", len(hypothesis))

	// 2. Embed the hypothesis, not the question.
	vec, err := s.embed(ctx, hypothesis)
	if err != nil {
		return nil, s.fail(span, "embed", err)
	}

	// 3. Vendor-scoped search.
	matches, err := s.search(ctx, vec, semantic.VendorFilter(q.VendorIDs))
	if err != nil {
		return nil, s.fail(span, "search", err)
	}
	log.Info("rag semantic search done", "step", "search", "results", len(matches))
	if len(matches) == 0 {
		return s.early(span, "no_matches", NoMatchesSummary), nil
	}

	// 4. Relevance floor, then the evidence cap in store order.
	kept := Relevant(matches, s.opts.MinScore)
	if len(kept) == 0 {
		return s.early(span, "below_threshold", NoRelevantSummary), nil
	}
	if len(kept) > s.opts.EvidenceK {
		kept = kept[:s.opts.EvidenceK]
	}

	// 5. Final verdict.
	texts := make([]string, len(kept))
	for i, m := range kept {
		texts[i] = m.Payload.Text
	}
	included := ""
	if s.opts.IncludeHypothesis {
		included = hypothesis
	}
	answer, err := s.generate(ctx, RiskPrompt(ReferenceContext(texts), q.Text, included))
	if err != nil {
		return nil, s.fail(span, "llm", err)
	}

	verdict := &domain.Verdict{
		RiskLevel: s.classifier.Classify(answer),
		Evidence:  Evidence(kept),
		Summary:   answer,
	}
	span.SetAttributes(attribute.String("risk_level", string(verdict.RiskLevel)))
	if m := s.deps.Metrics; m != nil {
		m.Verdicts(verdict.RiskLevel).Inc()
		m.Duration.Since(start)
	}
	log.Info("rag assess done", "risk_level", verdict.RiskLevel, "evidence", len(verdict.Evidence), "duration", time.Since(start))
	return verdict, nil
}

func (s *Service) hypothesize(ctx context.Context, query string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("rag: ssr: %w", err)
	}
	ctx, span := tracer.Start(ctx, "rag.ssr")
	defer span.End()
	text, err := s.deps.Gateway.Complete(ctx, []llm.Message{llm.User(HypothesisPrompt(query))}, llm.Params{
		Temperature: s.opts.HypothesisTemperature,
		MaxTokens:   s.opts.HypothesisMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("rag: ssr: %w", stepError(domain.ErrSSRGeneration, err))
	}
	return text, nil
}

func (s *Service) embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("rag: embed: %w", err)
	}
	ctx, span := tracer.Start(ctx, "rag.embed")
	defer span.End()
	vec, err := s.deps.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("rag: embed: %w", stepError(domain.ErrEmbedding, err))
	}
	if s.opts.Dimensions > 0 && len(vec) != s.opts.Dimensions {
		return nil, fmt.Errorf("rag: embed: %w", domain.NewStepError(domain.ErrEmbedding,
			fmt.Errorf("got %d dimensions, want %d", len(vec), s.opts.Dimensions)))
	}
	return vec, nil
}

func (s *Service) search(ctx context.Context, vec []float32, filter *semantic.Filter) ([]domain.ScoredMatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("rag: search: %w", err)
	}
	ctx, span := tracer.Start(ctx, "rag.search")
	defer span.End()
	if s.opts.SearchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.SearchTimeout)
		defer cancel()
	}
	matches, err := s.deps.Store.SearchFiltered(ctx, vec, s.opts.SearchTopK, filter)
	if err != nil {
		return nil, fmt.Errorf("rag: search: %w", stepError(domain.ErrVectorSearch, err))
	}
	span.SetAttributes(attribute.Int("results", len(matches)))
	return matches, nil
}

func (s *Service) generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("rag: llm: %w", err)
	}
	ctx, span := tracer.Start(ctx, "rag.generate")
	defer span.End()
	text, err := s.deps.Gateway.Complete(ctx, []llm.Message{
		llm.System(SystemInstruction),
		llm.User(prompt),
	}, llm.Params{Temperature: s.opts.AnswerTemperature, MaxTokens: s.opts.AnswerMaxTokens})
	if err != nil {
		return "", fmt.Errorf("rag: llm: %w", stepError(domain.ErrLLM, err))
	}
	return text, nil
}

func (s *Service) early(span trace.Span, reason, summary string) *domain.Verdict {
	span.SetAttributes(attribute.String("early_exit", reason))
	if m := s.deps.Metrics; m != nil {
		m.EarlyExits(reason).Inc()
	}
	s.logger.Info("rag assess early exit", "reason", reason)
	return &domain.Verdict{RiskLevel: domain.RiskLow, Evidence: []string{}, Summary: summary}
}

func (s *Service) fail(span trace.Span, step string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if m := s.deps.Metrics; m != nil {
		m.Failures(step).Inc()
	}
	s.logger.Error("rag assess failed", "step", step, "err", err)
	return err
}

// stepError tags err with kind unless it already carries it.
func stepError(kind, err error) error {
	if errors.Is(err, kind) {
		return err
	}
	return domain.NewStepError(kind, err)
}

// Relevant returns the matches scoring at least minScore, in their original order.
func Relevant(matches []domain.ScoredMatch, minScore float32) []domain.ScoredMatch {
	kept := make([]domain.ScoredMatch, 0, len(matches))
	for _, m := range matches {
		if m.Score >= minScore {
			kept = append(kept, m)
		}
	}
	return kept
}

// Evidence returns the sorted distinct sources of matches. A missing source is
// reported as domain.UnknownSource.
func Evidence(matches []domain.ScoredMatch) []string {
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		src := m.Payload.Source
		if src == "" {
			src = domain.UnknownSource
		}
		if seen[src] {
			continue
		}
		seen[src] = true
		out = append(out, src)
	}
	sort.Strings(out)
	return out
}
