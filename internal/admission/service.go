package admission

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sourav-m/portfolio-api/internal/log"
	"github.com/sourav-m/portfolio-api/internal/store"
)

// Limiter class names wired at startup. Requests may only name these.
const (
	ClassPublic  = "public"
	ClassContact = "contact"
	ClassAdmin   = "admin"
)

// SubmitStatus is the terminal state of one contact submission. Each
// submission moves from pending to exactly one of these in a single hop.
type SubmitStatus int

const (
	SubmitAccepted SubmitStatus = iota
	SubmitThrottled
	SubmitRejected
)

// SubmitResult is the outcome of SubmitContact. Reason is set only for
// SubmitRejected and is one of ReasonContent or ReasonVolume; RetryAfter is
// set only for SubmitThrottled.
type SubmitResult struct {
	Status     SubmitStatus
	Reason     string
	RetryAfter time.Duration
	MessageID  int64
}

// ContactSubmission is the inbound contact-form payload plus the client
// attribution the handlers extracted from the request.
type ContactSubmission struct {
	Name      string
	Email     string
	Message   string
	IPAddress string
	UserAgent string
}

// ContactSaver persists accepted contact messages.
type ContactSaver interface {
	InsertContactMessage(ctx context.Context, m *store.ContactMessage) (int64, error)
}

// SubmissionRecorder feeds the fast submission-recency index after a
// message is persisted. Optional; the durable store answers volume queries
// either way.
type SubmissionRecorder interface {
	RecordSubmission(ctx context.Context, clientKey string, at time.Time) error
}

// Tracker receives fire-and-forget analytics events.
type Tracker interface {
	ContactSubmission()
}

// Service is the request-admission façade. The API layer calls it once per
// request: rate check, abuse check on the contact path, read-through
// caching on the read path, group invalidation on the write path. One
// Service is built at startup and shared by every handler.
type Service struct {
	limits   *Registry
	abuse    *AbuseDetector
	cache    *Cache
	contacts ContactSaver
	recorder SubmissionRecorder
	tracker  Tracker
	now      func() time.Time
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithSubmissionRecorder wires the optional recency index.
func WithSubmissionRecorder(r SubmissionRecorder) ServiceOption {
	return func(s *Service) { s.recorder = r }
}

// WithTracker wires analytics.
func WithTracker(t Tracker) ServiceOption {
	return func(s *Service) { s.tracker = t }
}

// WithServiceClock injects the clock used for persisted timestamps.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService wires the admission façade.
func NewService(limits *Registry, abuse *AbuseDetector, cache *Cache, contacts ContactSaver, opts ...ServiceOption) *Service {
	s := &Service{
		limits:   limits,
		abuse:    abuse,
		cache:    cache,
		contacts: contacts,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Admit consumes one token from the named limiter class for clientKey.
func (s *Service) Admit(class, clientKey string) Decision {
	return s.limits.Check(class, clientKey)
}

// ClassLimit returns the configured policy for a limiter class, for
// callers that surface limit metadata in response headers.
func (s *Service) ClassLimit(class string) Limit {
	return s.limits.Limit(class)
}

// CachedRead serves key from the cache, running loader and tagging the
// entry with groups on a miss. Loader failures are never swallowed; the
// caller maps them to a 5xx and the key stays a miss so the next request
// retries.
func (s *Service) CachedRead(ctx context.Context, key string, groups []string, loader Loader) (interface{}, error) {
	v, err := s.cache.GetOrLoad(ctx, key, groups, loader)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", key, err)
	}
	return v, nil
}

// SubmitContact runs the full contact path: contact limiter, abuse
// heuristics, persist, record, track. Over-quota and spam are expected
// outcomes returned in the SubmitResult; the error return is reserved for
// store failures.
func (s *Service) SubmitContact(ctx context.Context, sub ContactSubmission) (SubmitResult, error) {
	if d := s.limits.Check(ClassContact, sub.IPAddress); !d.Allowed {
		log.Logger().Info("contact submission throttled",
			zap.String("ip", sub.IPAddress),
			zap.Duration("retryAfter", d.RetryAfter))
		return SubmitResult{Status: SubmitThrottled, RetryAfter: d.RetryAfter}, nil
	}

	verdict, err := s.abuse.Evaluate(ctx, sub.Message, sub.IPAddress)
	if err != nil {
		return SubmitResult{}, err
	}
	if !verdict.Clean {
		log.Logger().Warn("contact submission rejected",
			zap.String("ip", sub.IPAddress),
			zap.String("reason", verdict.Reason))
		return SubmitResult{Status: SubmitRejected, Reason: verdict.Reason}, nil
	}

	msg := &store.ContactMessage{
		Name:      sub.Name,
		Email:     sub.Email,
		Message:   sub.Message,
		IPAddress: sub.IPAddress,
		UserAgent: sub.UserAgent,
		CreatedAt: s.now().UTC(),
	}
	id, err := s.contacts.InsertContactMessage(ctx, msg)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("saving contact message: %w", err)
	}

	if s.recorder != nil {
		// Index failures only slow the volume check down to the SQL path.
		if err := s.recorder.RecordSubmission(ctx, sub.IPAddress, msg.CreatedAt); err != nil {
			log.Logger().Warn("failed to record submission in recency index",
				zap.String("ip", sub.IPAddress), zap.Error(err))
		}
	}
	if s.tracker != nil {
		s.tracker.ContactSubmission()
	}

	log.Logger().Info("contact message saved",
		zap.Int64("id", id), zap.String("ip", sub.IPAddress))
	return SubmitResult{Status: SubmitAccepted, MessageID: id}, nil
}

// Invalidate clears every cache entry tagged with group.
func (s *Service) Invalidate(group string) int {
	n := s.cache.Invalidate(group)
	log.Logger().Info("cache group invalidated",
		zap.String("group", group), zap.Int("entries", n))
	return n
}

// ClearCache drops every cache entry.
func (s *Service) ClearCache() {
	s.cache.Clear()
	log.Logger().Info("cache cleared")
}

// Close releases background resources.
func (s *Service) Close() {
	s.limits.Close()
}
