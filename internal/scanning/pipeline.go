package scanning

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/zombor/finance-bot/internal/ledger"
	"github.com/zombor/finance-bot/internal/metrics"
	"github.com/zombor/finance-bot/internal/parsing"
	"github.com/zombor/finance-bot/internal/retry"
)

// Outcome says where a receipt came from
type Outcome int

const (
	// Extracted receipts were read by the AI service
	Extracted Outcome = iota + 1
	// FallbackExtracted receipts were built from the photo caption
	FallbackExtracted
	// Failed means neither stage found an amount
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Extracted:
		return "extracted"
	case FallbackExtracted:
		return "fallback"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of running a photo through the pipeline
type Result struct {
	Outcome Outcome
	Receipt ledger.Receipt
	// Err is why the AI stage gave no receipt; nil when Outcome is Extracted
	Err error
}

// Unavailable reports whether the AI service refused the request outright,
// as opposed to running out of retries
func (r Result) Unavailable() bool {
	var se *retry.ServiceError
	return r.Outcome == Failed && errors.As(r.Err, &se) && se.Kind == retry.Fatal
}

// Pipeline reads receipts with a Scanner under retry, falling back to the
// local text extractor on the photo caption
type Pipeline struct {
	scanner   Scanner
	extractor *parsing.Extractor
	policy    retry.Policy
}

// NewPipeline creates a Pipeline. A nil scanner sends every photo straight
// to the caption fallback.
func NewPipeline(scanner Scanner, extractor *parsing.Extractor, policy retry.Policy) *Pipeline {
	return &Pipeline{
		scanner:   scanner,
		extractor: extractor,
		policy:    policy,
	}
}

// Extract runs the photo through the AI service and, when retries are
// exhausted or no service is configured, through the caption
func (p *Pipeline) Extract(ctx context.Context, imageData []byte, contentType, caption string) Result {
	result := p.extract(ctx, imageData, contentType, caption)
	metrics.ExtractionOutcomes.WithLabelValues(result.Outcome.String()).Inc()
	return result
}

func (p *Pipeline) extract(ctx context.Context, imageData []byte, contentType, caption string) Result {
	if p.scanner == nil {
		return p.fallback(caption, errors.New("no receipt scanner configured"))
	}

	data, err := retry.Do(ctx, p.instrumented(), func(ctx context.Context) (*ReceiptData, error) {
		return p.scanner.ScanReceipt(ctx, imageData, contentType)
	})
	if err == nil {
		return Result{Outcome: Extracted, Receipt: data.Receipt()}
	}

	var se *retry.ServiceError
	if errors.As(err, &se) && se.Kind == retry.Exhausted {
		slog.Warn("receipt extraction exhausted retries, using caption", "attempts", se.Attempts, "error", se.Err)
		return p.fallback(caption, err)
	}

	slog.Error("receipt extraction failed", "error", err)
	return Result{Outcome: Failed, Err: err}
}

func (p *Pipeline) fallback(caption string, cause error) Result {
	c, ok := p.extractor.Extract(caption)
	if !ok {
		return Result{Outcome: Failed, Err: cause}
	}

	label := c.Description
	if label == "" {
		label = "Struk"
	}
	return Result{
		Outcome: FallbackExtracted,
		Receipt: ledger.Receipt{
			Date:  c.Date,
			Items: []ledger.LineItem{{Label: label, Amount: c.Amount.Value, Category: c.Category}},
			Total: c.Amount.Value,
		},
		Err: cause,
	}
}

// instrumented chains logging and metrics onto the configured hooks
func (p *Pipeline) instrumented() retry.Policy {
	policy := p.policy
	onAttempt, onRetry := policy.OnAttempt, policy.OnRetry
	retryable := policy.Retryable
	if retryable == nil {
		retryable = retry.IsRetryable
	}

	policy.OnAttempt = func(attempt int, err error) {
		result := "success"
		switch {
		case err == nil:
		case retryable(err):
			result = "retryable"
		default:
			result = "fatal"
		}
		metrics.AIAttempts.WithLabelValues(result).Inc()
		if onAttempt != nil {
			onAttempt(attempt, err)
		}
	}
	policy.OnRetry = func(attempt int, wait time.Duration, err error) {
		slog.Info("receipt extraction rate limited, backing off", "attempt", attempt, "wait", wait, "error", err)
		metrics.AIRetryWait.Observe(wait.Seconds())
		if onRetry != nil {
			onRetry(attempt, wait, err)
		}
	}
	return policy
}
