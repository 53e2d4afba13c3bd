package audit

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"vendoraccess.org/internal/auth"
	"vendoraccess.org/internal/ids"
	"vendoraccess.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Sink receives entries after they have been enriched and signed. Sinks run
// on the recorder goroutine and must not assume the caller's context.
type Sink func(Entry)

// Recorder is a fire-and-forget audit logger. Log never blocks and never
// reports failure to the caller; a full queue drops the entry and counts it.
type Recorder struct {
	sinks  []Sink
	signer *Signer
	now    func() time.Time

	queue   chan Entry
	done    chan struct{}
	closing sync.Once
	wg      sync.WaitGroup
	dropped atomic.Int64
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithSink adds a sink.
func WithSink(s Sink) Option {
	return func(r *Recorder) {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
}

// WithSigner signs every entry before it reaches the sinks.
func WithSigner(s *Signer) Option {
	return func(r *Recorder) { r.signer = s }
}

// WithClock overrides the time source used for OccurredAt.
func WithClock(fn func() time.Time) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder starts a recorder with a queue of bufferSize entries (default 1024).
func NewRecorder(bufferSize int, opts ...Option) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	r := &Recorder{
		now:   time.Now,
		queue: make(chan Entry, bufferSize),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.wg.Add(1)
	go r.process()
	return r
}

// Log enqueues the entry.
func (r *Recorder) Log(ctx context.Context, e Entry) {
	if r == nil {
		return
	}
	e = r.enrich(ctx, e)
	select {
	case <-r.done:
		r.dropped.Add(1)
		obs.AuditDropped()
		return
	default:
	}
	select {
	case r.queue <- e:
	default:
		r.dropped.Add(1)
		obs.AuditDropped()
	}
}

// Dropped returns how many entries were discarded.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

func (r *Recorder) enrich(ctx context.Context, e Entry) Entry {
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = r.now()
	}
	// Postgres timestamptz keeps microseconds.
	e.OccurredAt = e.OccurredAt.UTC().Truncate(time.Microsecond)
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
	if e.RequestID == "" {
		e.RequestID = RequestIDFromContext(ctx)
	}
	if e.ActorID == "" && ctx != nil {
		if userID, ok := auth.UserIDFromContext(ctx); ok {
			e.ActorID = userID
		}
	}
	if len(e.Metadata) > 0 {
		meta := make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			meta[k] = v
		}
		e.Metadata = meta
	}
	if r.signer != nil {
		e.Signature = r.signer.Sign(e)
	}
	return e
}

func (r *Recorder) process() {
	defer r.wg.Done()
	for {
		select {
		case e := <-r.queue:
			r.dispatch(e)
		case <-r.done:
			for {
				select {
				case e := <-r.queue:
					r.dispatch(e)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) dispatch(e Entry) {
	for _, s := range r.sinks {
		s(e)
	}
}

// Close flushes queued entries and stops the recorder.
func (r *Recorder) Close() error {
	r.closing.Do(func() { close(r.done) })
	r.wg.Wait()
	return nil
}
