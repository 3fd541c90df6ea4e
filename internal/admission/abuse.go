package admission

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Rejection reasons reported by the abuse detector. The HTTP layer maps
// these to a generic 400; the precise heuristic is never sent to clients.
const (
	ReasonContent = "content"
	ReasonVolume  = "volume"
)

// SubmissionHistory answers "how many contact submissions arrived from this
// client since a given instant". It is backed by durable storage so counts
// survive restarts and span every instance sharing the database.
type SubmissionHistory interface {
	CountSubmissionsSince(ctx context.Context, clientKey string, since time.Time) (int64, error)
}

// Verdict is the outcome of evaluating one contact submission.
type Verdict struct {
	Clean  bool
	Reason string
}

// AbuseDetector applies content and volume heuristics to contact
// submissions. It is independent of rate limiting: a client can be under
// its request budget and still be rejected here, and vice versa.
type AbuseDetector struct {
	phrases   []string // stored lowercased
	threshold int64
	window    time.Duration
	history   SubmissionHistory
	now       func() time.Time
}

// NewAbuseDetector builds a detector with a banned-phrase list, a sliding
// submission window, and the history source backing the volume rule.
func NewAbuseDetector(phrases []string, threshold int, window time.Duration, history SubmissionHistory, now func() time.Time) *AbuseDetector {
	if now == nil {
		now = time.Now
	}
	lowered := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			lowered = append(lowered, p)
		}
	}
	return &AbuseDetector{
		phrases:   lowered,
		threshold: int64(threshold),
		window:    window,
		history:   history,
		now:       now,
	}
}

// Evaluate runs the heuristics in order, first match wins: banned-phrase
// content check, then the trailing-window volume check. The error return is
// reserved for history-store failures; a spam match is a Verdict, not an
// error.
func (d *AbuseDetector) Evaluate(ctx context.Context, message, clientKey string) (Verdict, error) {
	body := strings.ToLower(message)
	for _, phrase := range d.phrases {
		if strings.Contains(body, phrase) {
			return Verdict{Reason: ReasonContent}, nil
		}
	}

	since := d.now().Add(-d.window)
	count, err := d.history.CountSubmissionsSince(ctx, clientKey, since)
	if err != nil {
		return Verdict{}, fmt.Errorf("counting submissions for %s: %w", clientKey, err)
	}
	if count >= d.threshold {
		return Verdict{Reason: ReasonVolume}, nil
	}

	return Verdict{Clean: true}, nil
}
