package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/spigell/doc-reviewer/internal/ai"
	"github.com/spigell/doc-reviewer/internal/cache"
	"github.com/spigell/doc-reviewer/internal/logger"
	"github.com/spigell/doc-reviewer/internal/repair"
	"github.com/spigell/doc-reviewer/internal/retry"
	"github.com/spigell/doc-reviewer/internal/utils"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultMinEvaluateChars  = 50
	DefaultMinSummarizeChars = 10
	DefaultMaxPromptChars    = 30000
	DefaultTemperature       = 0.2
	DefaultMaxOutputTokens   = 2048
	defaultMaxLogLength      = 200
)

// Options tunes the pipeline. Zero values fall back to the defaults. A set
// Temperature is used as is, including zero.
type Options struct {
	MinEvaluateChars  int
	MinSummarizeChars int
	MaxPromptChars    int
	DedupeInflight    bool
	Temperature       *float32
	MaxOutputTokens   int32
	MaxLogLength      int
	Retry             retry.Policy
}

func (o Options) withDefaults() Options {
	if o.MinEvaluateChars <= 0 {
		o.MinEvaluateChars = DefaultMinEvaluateChars
	}
	if o.MinSummarizeChars <= 0 {
		o.MinSummarizeChars = DefaultMinSummarizeChars
	}
	if o.MaxPromptChars <= 0 {
		o.MaxPromptChars = DefaultMaxPromptChars
	}
	if o.Temperature == nil || *o.Temperature < 0 {
		t := float32(DefaultTemperature)
		o.Temperature = &t
	}
	if o.MaxOutputTokens <= 0 {
		o.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if o.MaxLogLength <= 0 {
		o.MaxLogLength = defaultMaxLogLength
	}
	return o
}

// Service runs documents through the backend with caching, retries, response
// repair and degradation on quota exhaustion.
type Service struct {
	backend ai.Backend
	retrier *retry.Retrier
	store   cache.Store
	opts    Options
	logger  *zap.Logger

	inflight singleflight.Group
}

func New(backend ai.Backend, store cache.Store, opts Options, log *zap.Logger) *Service {
	opts = opts.withDefaults()
	log = logger.WithCommonFields(log, backend.Provider(), backend.Model())

	if store == nil {
		store = cache.NewMemory(cache.DefaultTTL)
	}

	return &Service{
		backend: backend,
		retrier: retry.New(opts.Retry, backend, log),
		store:   store,
		opts:    opts,
		logger:  log,
	}
}

// Summarize produces a plain text summary. Summaries are never cached and
// never degraded.
func (s *Service) Summarize(ctx context.Context, text, filename string) (*SummaryResult, error) {
	if err := validate(text, s.opts.MinSummarizeChars); err != nil {
		return nil, err
	}

	log := logger.WithFields(s.logger, logger.DocumentFields("", filename)...)

	raw, err := s.call(ctx, log, buildSummarizePrompt(text, filename, s.opts.MaxPromptChars))
	if errors.Is(err, retry.ErrExhausted) {
		return nil, &Error{Kind: KindRateLimited, Message: "the backend is rate limited, try again later", Err: err}
	}
	if err != nil {
		return nil, upstreamError(err)
	}

	summary := strings.TrimSpace(repair.StripFences(raw))
	if summary == "" {
		return nil, &Error{Kind: KindParse, Message: "the backend returned an empty summary"}
	}

	log.Info("document summarized", zap.Int("summary_length", utf8.RuneCountInString(summary)))

	return &SummaryResult{
		Summary:    summary,
		Filename:   filename,
		Characters: utf8.RuneCountInString(text),
		Words:      len(strings.Fields(text)),
	}, nil
}

// Evaluate scores the document against the fixed criteria. Results, including
// degraded ones, are cached by document fingerprint.
func (s *Service) Evaluate(ctx context.Context, text, filename string) (*EvaluationResult, error) {
	if err := validate(text, s.opts.MinEvaluateChars); err != nil {
		return nil, err
	}

	fingerprint := cache.Fingerprint(text)
	log := logger.WithFields(s.logger, logger.DocumentFields(fingerprint, filename)...)

	if cached, ok := s.lookup(ctx, log, fingerprint); ok {
		return &cached, nil
	}

	if !s.opts.DedupeInflight {
		result, err := s.evaluate(ctx, log, fingerprint, text, filename)
		if err != nil {
			return nil, err
		}
		return &result, nil
	}

	// The shared call outlives any single caller, each of which stops waiting
	// on its own context.
	ch := s.inflight.DoChan(fingerprint, func() (any, error) {
		return s.evaluate(context.WithoutCancel(ctx), log, fingerprint, text, filename)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			log.Debug("joined in-flight evaluation")
		}
		result := res.Val.(EvaluationResult).clone()
		return &result, nil
	}
}

// Review runs the summary and the evaluation concurrently. Whichever side
// succeeded is returned together with the first failure.
func (s *Service) Review(ctx context.Context, text, filename string) (*ReviewResult, error) {
	var (
		g   errgroup.Group
		out ReviewResult
	)

	g.Go(func() error {
		summary, err := s.Summarize(ctx, text, filename)
		if err != nil {
			return fmt.Errorf("summarize: %w", err)
		}
		out.Summary = summary
		return nil
	})

	g.Go(func() error {
		evaluation, err := s.Evaluate(ctx, text, filename)
		if err != nil {
			return fmt.Errorf("evaluate: %w", err)
		}
		out.Evaluation = evaluation
		return nil
	})

	return &out, g.Wait()
}

// Invalidate drops the cached evaluation for text.
func (s *Service) Invalidate(ctx context.Context, text string) error {
	return s.store.Delete(ctx, cache.Fingerprint(text))
}

func (s *Service) evaluate(ctx context.Context, log *zap.Logger, fingerprint, text, filename string) (EvaluationResult, error) {
	raw, err := s.call(ctx, log, buildEvaluatePrompt(text, filename, s.opts.MaxPromptChars))
	if errors.Is(err, retry.ErrExhausted) {
		log.Warn("backend quota exhausted, returning degraded evaluation", zap.Error(err))
		result := Degrade()
		s.save(ctx, log, fingerprint, result)
		return result, nil
	}
	if err != nil {
		return EvaluationResult{}, upstreamError(err)
	}

	payload, stage, err := repair.Repair(raw)
	if err != nil {
		log.Warn("backend response could not be repaired", zap.Error(err))
		return EvaluationResult{}, &Error{Kind: KindParse, Message: "the backend response could not be parsed", Err: err}
	}
	if stage != repair.StageStrict {
		log.Info("backend response repaired", zap.String("stage", string(stage)))
	}

	result, err := Normalize(payload, log)
	if err != nil {
		return EvaluationResult{}, &Error{Kind: KindParse, Message: "the backend response has an unexpected structure", Err: err}
	}

	log.Info("document evaluated",
		zap.Int("total_score", result.TotalScore),
		zap.String("recommendation", string(result.Recommendation)),
	)

	s.save(ctx, log, fingerprint, result)
	return result, nil
}

func (s *Service) call(ctx context.Context, log *zap.Logger, prompt string) (string, error) {
	req := ai.Request{
		System:          systemPrompt,
		Prompt:          prompt,
		Temperature:     *s.opts.Temperature,
		MaxOutputTokens: s.opts.MaxOutputTokens,
	}

	log.Debug("backend request",
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, s.opts.MaxLogLength)),
	)

	raw, err := s.retrier.Do(ctx, func(ctx context.Context) (string, error) {
		return s.backend.Complete(ctx, req)
	})
	if err != nil {
		return "", err
	}

	log.Debug("backend response",
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, s.opts.MaxLogLength)),
	)

	return raw, nil
}

func (s *Service) lookup(ctx context.Context, log *zap.Logger, fingerprint string) (EvaluationResult, bool) {
	entry, ok, err := s.store.Get(ctx, fingerprint)
	if err != nil {
		log.Warn("cache read failed", zap.Error(err))
		return EvaluationResult{}, false
	}
	if !ok {
		log.Debug("cache miss")
		return EvaluationResult{}, false
	}

	var result EvaluationResult
	if err := json.Unmarshal(entry.Value, &result); err != nil {
		log.Warn("dropping undecodable cache entry", zap.Error(err))
		return EvaluationResult{}, false
	}

	log.Info("cache hit", zap.Time("cached_at", entry.CreatedAt))
	return result, true
}

func (s *Service) save(ctx context.Context, log *zap.Logger, fingerprint string, result EvaluationResult) {
	data, err := json.Marshal(result)
	if err != nil {
		log.Warn("encoding cache entry failed", zap.Error(err))
		return
	}
	if err := s.store.Put(ctx, fingerprint, data); err != nil {
		log.Warn("cache write failed", zap.Error(err))
	}
}

func validate(text string, minChars int) error {
	if n := utf8.RuneCountInString(strings.TrimSpace(text)); n < minChars {
		return &Error{
			Kind:    KindValidation,
			Message: fmt.Sprintf("document must contain at least %d characters, got %d", minChars, n),
		}
	}
	return nil
}

func upstreamError(err error) error {
	switch ai.KindOf(err) {
	case ai.KindAuthInvalid:
		return &Error{Kind: KindAuthInvalid, Message: "the backend rejected the configured credentials", Err: err}
	case ai.KindServiceUnavailable:
		return &Error{Kind: KindServiceUnavailable, Message: "the backend is temporarily unavailable, try again later", Err: err}
	default:
		return &Error{Kind: KindUpstream, Message: "the backend request failed", Err: err}
	}
}
