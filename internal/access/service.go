package access

import (
	"context"
	"errors"
	"time"

	"vendoraccess.org/internal/audit"
)

const (
	defaultMaxGrantHours = 24 * 30
	defaultTokenTTL      = 24 * time.Hour
	defaultSessionTTL    = 30 * time.Minute
	defaultStoreTimeout  = 2 * time.Second
	defaultRetryBackoff  = 50 * time.Millisecond
	defaultCacheTTL      = 5 * time.Second
	maxWriteAttempts     = 5
)

// Auditor receives audit entries. Implementations must not block.
type Auditor interface {
	Log(ctx context.Context, e audit.Entry)
}

type nopAuditor struct{}

func (nopAuditor) Log(context.Context, audit.Entry) {}

// Service hosts the vendor registry, grant manager, token issuer, access
// validator, revocation controller and expiry sweeper over one Store.
type Service struct {
	store   Store
	auditor Auditor
	now     func() time.Time

	hashKey       []byte
	maxGrantHours int
	tokenTTL      time.Duration
	sessionTTL    time.Duration
	storeTimeout  time.Duration
	retryBackoff  time.Duration
	cacheTTL      time.Duration
	sweepWorkers  int

	cache    *credentialCache
	velocity *velocityTracker
}

// Option configures Service behavior.
type Option func(*Service) error

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithAuditor sets the audit sink.
func WithAuditor(a Auditor) Option {
	return func(s *Service) error {
		if a != nil {
			s.auditor = a
		}
		return nil
	}
}

// WithHashKey sets the HMAC key used to hash token secrets.
func WithHashKey(key []byte) Option {
	return func(s *Service) error {
		if len(key) < 16 {
			return errors.New("access: token hash key must be at least 16 bytes")
		}
		s.hashKey = append([]byte(nil), key...)
		return nil
	}
}

// WithMaxGrantHours sets the policy ceiling on grant duration.
func WithMaxGrantHours(hours int) Option {
	return func(s *Service) error {
		if hours > 0 {
			s.maxGrantHours = hours
		}
		return nil
	}
}

// WithTokenTTL sets the token lifetime policy.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
		return nil
	}
}

// WithSessionTTL sets the sliding session window.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
		return nil
	}
}

// WithStoreTimeout bounds each persistence call on the validate path.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) error {
		if d > 0 {
			s.storeTimeout = d
		}
		return nil
	}
}

// WithRetryBackoff sets the pause before the single infrastructure retry.
func WithRetryBackoff(d time.Duration) Option {
	return func(s *Service) error {
		if d >= 0 {
			s.retryBackoff = d
		}
		return nil
	}
}

// WithCacheTTL sets the credential cache lifetime; zero disables the cache.
func WithCacheTTL(d time.Duration) Option {
	return func(s *Service) error {
		if d < 0 {
			return errors.New("access: cache ttl must not be negative")
		}
		s.cacheTTL = d
		return nil
	}
}

// WithSweepWorkers sets how many grants the sweeper expires in parallel.
func WithSweepWorkers(n int) Option {
	return func(s *Service) error {
		if n > 0 {
			s.sweepWorkers = n
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("access: store is required")
	}
	svc := &Service{
		store:         store,
		auditor:       nopAuditor{},
		now:           time.Now,
		maxGrantHours: defaultMaxGrantHours,
		tokenTTL:      defaultTokenTTL,
		sessionTTL:    defaultSessionTTL,
		storeTimeout:  defaultStoreTimeout,
		retryBackoff:  defaultRetryBackoff,
		cacheTTL:      defaultCacheTTL,
		sweepWorkers:  4,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if len(svc.hashKey) == 0 {
		return nil, errors.New("access: token hash key is required")
	}
	svc.cache = newCredentialCache(svc.cacheTTL, svc.clock)
	svc.velocity = newVelocityTracker(svc.clock)
	return svc, nil
}

// Ping checks the persistence adapter.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) clock() time.Time { return s.now().UTC() }

func (s *Service) log(ctx context.Context, e audit.Entry) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = s.clock()
	}
	s.auditor.Log(ctx, e)
}

// withTimeout bounds a validate-path persistence call.
func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// retry runs op and, on an infrastructure failure, retries it exactly once
// after the configured backoff.
func retry[T any](ctx context.Context, s *Service, op func(context.Context) (T, error)) (T, error) {
	v, err := op(ctx)
	if err == nil || !errors.Is(err, ErrInfrastructure) {
		return v, err
	}
	if s.retryBackoff > 0 {
		t := time.NewTimer(s.retryBackoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return v, classify("retry", ctx.Err())
		case <-t.C:
		}
	}
	return op(ctx)
}
