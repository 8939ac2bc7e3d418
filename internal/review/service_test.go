package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spigell/doc-reviewer/internal/ai"
	"github.com/spigell/doc-reviewer/internal/cache"
	"github.com/spigell/doc-reviewer/internal/retry"

	"go.uber.org/zap"
)

// sixtyChars is exactly 60 characters long.
const sixtyChars = "A pilot to install rooftop solar panels on two rural schools"

var (
	errQuota = errors.New("googleapi: Error 429: Quota exceeded")
	errAuth  = errors.New("API key not valid. Please pass a valid API key.")
)

type fakeBackend struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	last    ai.Request
	respond func(call int, req ai.Request) (string, error)
	// wait, when set, runs before respond and aborts the call on error.
	wait    func(ctx context.Context) error
}

func (f *fakeBackend) Complete(ctx context.Context, req ai.Request) (string, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.prompts = append(f.prompts, req.Prompt)
	f.last = req
	f.mu.Unlock()

	if f.wait != nil {
		if err := f.wait(ctx); err != nil {
			return "", err
		}
	}
	return f.respond(call, req)
}

func (f *fakeBackend) Classify(err error) ai.Kind { return ai.ClassifyMessage(err) }
func (f *fakeBackend) Provider() string          { return "fake" }
func (f *fakeBackend) Model() string             { return "fake-model" }

func (f *fakeBackend) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func always(out string, err error) func(int, ai.Request) (string, error) {
	return func(int, ai.Request) (string, error) { return out, err }
}

// scoresSummingTo50 covers every criterion.
var scoresSummingTo50 = []int{4, 3, 4, 3, 4, 3, 4, 3, 4, 3, 4, 3, 3, 3, 2}

func evaluationJSON(t *testing.T, reportedTotal int) string {
	t.Helper()

	scores := make([]map[string]any, len(Criteria))
	for i, name := range Criteria {
		scores[i] = map[string]any{"parameter": name, "score": scoresSummingTo50[i], "reason": "ok"}
	}
	data, err := json.Marshal(map[string]any{
		"scores":         scores,
		"strengths":      []string{"clear goal"},
		"weaknesses":     []string{"thin budget"},
		"recommendation": "ACCEPT",
		"total_score":    reportedTotal,
		"notes":          "solid",
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return string(data)
}

func newTestService(backend *fakeBackend, store cache.Store, opts Options) *Service {
	if opts.Retry.BaseDelay == 0 {
		opts.Retry.BaseDelay = time.Millisecond
	}
	return New(backend, store, opts, zap.NewNop())
}

func TestEvaluateWellFormed(t *testing.T) {
	backend := &fakeBackend{respond: always(evaluationJSON(t, 0), nil)}
	svc := newTestService(backend, nil, Options{})

	result, err := svc.Evaluate(context.Background(), sixtyChars, "solar.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.TotalScore != 50 {
		t.Fatalf("expected total 50, got %d", result.TotalScore)
	}
	if result.TotalScore != sumScores(result.Scores) {
		t.Fatalf("total does not match scores")
	}
	if result.DemoMode {
		t.Fatalf("expected a genuine result")
	}
	if len(result.Scores) != len(Criteria) {
		t.Fatalf("expected %d scores, got %d", len(Criteria), len(result.Scores))
	}
	if result.Recommendation != RecommendationAccept {
		t.Fatalf("unexpected recommendation: %s", result.Recommendation)
	}
	if backend.Calls() != 1 {
		t.Fatalf("expected 1 backend call, got %d", backend.Calls())
	}
	if !strings.Contains(backend.prompts[0], "solar.txt") || !strings.Contains(backend.prompts[0], Criteria[0]) {
		t.Fatalf("prompt is missing the filename or criteria")
	}
}

func TestEvaluateCachedWithinTTL(t *testing.T) {
	backend := &fakeBackend{respond: always(evaluationJSON(t, 50), nil)}
	svc := newTestService(backend, cache.NewMemory(time.Hour), Options{})

	first, err := svc.Evaluate(context.Background(), sixtyChars, "solar.txt")
	if err != nil {
		t.Fatalf("first evaluate: %v", err)
	}
	second, err := svc.Evaluate(context.Background(), sixtyChars, "solar.txt")
	if err != nil {
		t.Fatalf("second evaluate: %v", err)
	}

	if backend.Calls() != 1 {
		t.Fatalf("expected 1 backend call, got %d", backend.Calls())
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected equal results, got %+v and %+v", first, second)
	}
}

func TestEvaluateRefetchesAfterTTL(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	store := cache.NewMemory(time.Hour, cache.WithClock(func() time.Time { return now }))

	backend := &fakeBackend{respond: always(evaluationJSON(t, 50), nil)}
	svc := newTestService(backend, store, Options{})

	if _, err := svc.Evaluate(context.Background(), sixtyChars, ""); err != nil {
		t.Fatalf("first evaluate: %v", err)
	}

	now = now.Add(61 * time.Minute)

	if _, err := svc.Evaluate(context.Background(), sixtyChars, ""); err != nil {
		t.Fatalf("second evaluate: %v", err)
	}
	if backend.Calls() != 2 {
		t.Fatalf("expected exactly one fresh call after expiry, got %d calls", backend.Calls())
	}
}

func TestEvaluateRetriesRateLimit(t *testing.T) {
	backend := &fakeBackend{respond: func(call int, _ ai.Request) (string, error) {
		if call < 3 {
			return "", errQuota
		}
		return evaluationJSON(t, 0), nil
	}}
	svc := newTestService(backend, nil, Options{})

	result, err := svc.Evaluate(context.Background(), sixtyChars, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.DemoMode {
		t.Fatalf("expected a genuine result after retries")
	}
	if backend.Calls() != 3 {
		t.Fatalf("expected 3 backend calls, got %d", backend.Calls())
	}
}

func TestEvaluateDegradesWhenRateLimitExhausted(t *testing.T) {
	backend := &fakeBackend{respond: always("", errQuota)}
	store := cache.NewMemory(time.Hour)
	svc := newTestService(backend, store, Options{Retry: retry.Policy{MaxAttempts: 3}})

	result, err := svc.Evaluate(context.Background(), sixtyChars, "")
	if err != nil {
		t.Fatalf("expected degraded result, got error %v", err)
	}
	if !result.DemoMode {
		t.Fatalf("expected demoMode to be set")
	}
	if result.Notes != DegradedNote {
		t.Fatalf("expected explanatory note, got %q", result.Notes)
	}
	if backend.Calls() != 3 {
		t.Fatalf("expected 3 backend calls, got %d", backend.Calls())
	}

	if _, ok, _ := store.Get(context.Background(), cache.Fingerprint(sixtyChars)); !ok {
		t.Fatalf("expected degraded result to be cached")
	}
}

func TestEvaluateRepairsMalformedResponse(t *testing.T) {
	payload := evaluationJSON(t, 0)
	payload = strings.Replace(payload, `"notes":"solid"`, `'notes':'solid'`, 1)
	payload = strings.TrimSuffix(payload, "}") + ",}"
	raw := "```json\n" + payload + " \n```"

	backend := &fakeBackend{respond: always(raw, nil)}
	svc := newTestService(backend, nil, Options{})

	result, err := svc.Evaluate(context.Background(), sixtyChars, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Notes != "solid" || result.TotalScore != 50 {
		t.Fatalf("unexpected result: notes=%q total=%d", result.Notes, result.TotalScore)
	}
}

func TestEvaluateRejectsShortDocument(t *testing.T) {
	backend := &fakeBackend{respond: always(evaluationJSON(t, 0), nil)}
	svc := newTestService(backend, nil, Options{})

	_, err := svc.Evaluate(context.Background(), "short", "")
	if KindOf(err) != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if backend.Calls() != 0 {
		t.Fatalf("expected no backend calls, got %d", backend.Calls())
	}
}

func TestEvaluateDoesNotDegradeFatalErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		expect Kind
	}{
		{name: "auth", err: errAuth, expect: KindAuthInvalid},
		{name: "unavailable", err: errors.New("503 model overloaded"), expect: KindServiceUnavailable},
		{name: "generic", err: errors.New("connection reset"), expect: KindUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{respond: always("", tt.err)}
			svc := newTestService(backend, nil, Options{})

			result, err := svc.Evaluate(context.Background(), sixtyChars, "")
			if err == nil {
				t.Fatalf("expected error, got result %+v", result)
			}
			if KindOf(err) != tt.expect {
				t.Fatalf("expected %s, got %s (%v)", tt.expect, KindOf(err), err)
			}
			if !errors.Is(err, tt.err) {
				t.Fatalf("expected the backend error to be wrapped")
			}
			if backend.Calls() != 1 {
				t.Fatalf("expected exactly 1 backend call, got %d", backend.Calls())
			}
		})
	}
}

func TestEvaluateParseFailure(t *testing.T) {
	backend := &fakeBackend{respond: always("I am unable to score this document.", nil)}
	store := cache.NewMemory(time.Hour)
	svc := newTestService(backend, store, Options{})

	_, err := svc.Evaluate(context.Background(), sixtyChars, "")
	if KindOf(err) != KindParse {
		t.Fatalf("expected parse error, got %v", err)
	}
	if stats := store.Stats(); stats.Entries != 0 {
		t.Fatalf("expected nothing cached after a parse failure, got %d entries", stats.Entries)
	}
}

func TestEvaluateMissingScores(t *testing.T) {
	backend := &fakeBackend{respond: always(`{"recommendation": "ACCEPT", "total_score": 70}`, nil)}
	svc := newTestService(backend, nil, Options{})

	_, err := svc.Evaluate(context.Background(), sixtyChars, "")
	if KindOf(err) != KindParse {
		t.Fatalf("expected parse error, got %v", err)
	}
	if !errors.Is(err, ErrInvalidStructure) {
		t.Fatalf("expected ErrInvalidStructure, got %v", err)
	}
}

func TestEvaluateDedupesInflight(t *testing.T) {
	release := make(chan struct{})
	payload := evaluationJSON(t, 0)
	backend := &fakeBackend{respond: func(int, ai.Request) (string, error) {
		<-release
		return payload, nil
	}}
	svc := newTestService(backend, cache.NewMemory(time.Hour), Options{DedupeInflight: true})

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Evaluate(context.Background(), sixtyChars, "")
			errs <- err
		}()
	}

	deadline := time.Now().Add(2 * time.Second)
	for backend.Calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)

	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if backend.Calls() != 1 {
		t.Fatalf("expected identical concurrent evaluations to share one call, got %d", backend.Calls())
	}
}

func TestEvaluateInflightSurvivesLeaderCancel(t *testing.T) {
	release := make(chan struct{})
	backend := &fakeBackend{
		respond: always(evaluationJSON(t, 0), nil),
		wait: func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-release:
				return nil
			}
		},
	}
	svc := newTestService(backend, cache.NewMemory(time.Hour), Options{DedupeInflight: true})

	leaderCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	leaderErr := make(chan error, 1)
	go func() {
		_, err := svc.Evaluate(leaderCtx, sixtyChars, "")
		leaderErr <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for backend.Calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	type outcome struct {
		result *EvaluationResult
		err    error
	}
	follower := make(chan outcome, 1)
	go func() {
		result, err := svc.Evaluate(context.Background(), sixtyChars, "")
		follower <- outcome{result, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	if err := <-leaderErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected the cancelled caller to stop with context.Canceled, got %v", err)
	}

	close(release)
	got := <-follower
	if got.err != nil {
		t.Fatalf("follower failed: %v", got.err)
	}
	if got.result.TotalScore != 50 || got.result.DemoMode {
		t.Fatalf("unexpected follower result: %+v", got.result)
	}
	if backend.Calls() != 1 {
		t.Fatalf("expected one shared backend call, got %d", backend.Calls())
	}
}

func TestEvaluateHonoursZeroTemperature(t *testing.T) {
	tests := []struct {
		name        string
		temperature *float32
		want        float32
	}{
		{name: "unset", temperature: nil, want: DefaultTemperature},
		{name: "zero", temperature: new(float32), want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{respond: always(evaluationJSON(t, 0), nil)}
			svc := newTestService(backend, nil, Options{Temperature: tt.temperature})

			if _, err := svc.Evaluate(context.Background(), sixtyChars, ""); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if backend.last.Temperature != tt.want {
				t.Fatalf("expected temperature %v, got %v", tt.want, backend.last.Temperature)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	backend := &fakeBackend{respond: always("```\nA short pilot for solar panels.\n```", nil)}
	store := cache.NewMemory(time.Hour)
	svc := newTestService(backend, store, Options{})

	text := "Solar for two schools in the valley."
	result, err := svc.Summarize(context.Background(), text, "solar.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Summary != "A short pilot for solar panels." {
		t.Fatalf("unexpected summary: %q", result.Summary)
	}
	if result.Filename != "solar.md" || result.Characters != len(text) || result.Words != 7 {
		t.Fatalf("unexpected summary metadata: %+v", result)
	}

	if _, err := svc.Summarize(context.Background(), text, "solar.md"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if backend.Calls() != 2 {
		t.Fatalf("expected summaries to bypass the cache, got %d calls", backend.Calls())
	}
	if store.Stats().Entries != 0 {
		t.Fatalf("expected summaries not to be cached")
	}
}

func TestSummarizeFailures(t *testing.T) {
	backend := &fakeBackend{respond: always("", errQuota)}
	svc := newTestService(backend, nil, Options{})

	_, err := svc.Summarize(context.Background(), "tiny", "")
	if KindOf(err) != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if backend.Calls() != 0 {
		t.Fatalf("expected no backend calls, got %d", backend.Calls())
	}

	_, err = svc.Summarize(context.Background(), sixtyChars, "")
	if KindOf(err) != KindRateLimited {
		t.Fatalf("expected summaries to surface rate limiting, got %v", err)
	}
	if !errors.Is(err, retry.ErrExhausted) {
		t.Fatalf("expected exhaustion to be wrapped, got %v", err)
	}
	if backend.Calls() != retry.DefaultMaxAttempts {
		t.Fatalf("expected %d calls, got %d", retry.DefaultMaxAttempts, backend.Calls())
	}
}

func TestReviewRunsBothAnalyses(t *testing.T) {
	payload := evaluationJSON(t, 0)
	backend := &fakeBackend{respond: func(_ int, req ai.Request) (string, error) {
		if strings.HasPrefix(req.Prompt, "Summarize") {
			return "Summary text.", nil
		}
		return payload, nil
	}}
	svc := newTestService(backend, nil, Options{})

	result, err := svc.Review(context.Background(), sixtyChars, "solar.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Summary == nil || result.Summary.Summary != "Summary text." {
		t.Fatalf("unexpected summary: %+v", result.Summary)
	}
	if result.Evaluation == nil || result.Evaluation.TotalScore != 50 {
		t.Fatalf("unexpected evaluation: %+v", result.Evaluation)
	}
}

func TestReviewKeepsPartialResult(t *testing.T) {
	payload := evaluationJSON(t, 0)
	backend := &fakeBackend{respond: func(_ int, req ai.Request) (string, error) {
		if strings.HasPrefix(req.Prompt, "Summarize") {
			return "", errors.New("503 unavailable")
		}
		return payload, nil
	}}
	svc := newTestService(backend, nil, Options{})

	result, err := svc.Review(context.Background(), sixtyChars, "")
	if KindOf(err) != KindServiceUnavailable {
		t.Fatalf("expected service unavailable, got %v", err)
	}
	if result.Summary != nil {
		t.Fatalf("expected no summary")
	}
	if result.Evaluation == nil {
		t.Fatalf("expected the evaluation to be kept")
	}
}

func TestInvalidate(t *testing.T) {
	backend := &fakeBackend{respond: always(evaluationJSON(t, 0), nil)}
	svc := newTestService(backend, cache.NewMemory(time.Hour), Options{})
	ctx := context.Background()

	if _, err := svc.Evaluate(ctx, sixtyChars, ""); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if err := svc.Invalidate(ctx, sixtyChars); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := svc.Evaluate(ctx, sixtyChars, ""); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if backend.Calls() != 2 {
		t.Fatalf("expected a fresh call after invalidation, got %d", backend.Calls())
	}
}

func TestPromptTruncatesLongDocuments(t *testing.T) {
	backend := &fakeBackend{respond: always(evaluationJSON(t, 0), nil)}
	svc := newTestService(backend, nil, Options{MaxPromptChars: 100})

	text := strings.Repeat("word ", 200)
	if _, err := svc.Evaluate(context.Background(), text, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	prompt := backend.prompts[0]
	if strings.Count(prompt, "word") > 20 {
		t.Fatalf("expected the document to be truncated in the prompt")
	}
	if !strings.Contains(prompt, fmt.Sprintf("first %d characters", 100)) {
		t.Fatalf("expected truncation note in prompt")
	}
}
