package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
)

// Class tags the terminal outcome of a logical call.
type Class string

const (
	// ClassSuccess is a 2xx response.
	ClassSuccess Class = "success"
	// ClassPermanent covers 400-class responses that will never succeed on
	// retry; the call degrades to an empty result immediately.
	ClassPermanent Class = "permanent"
	// ClassTransient covers 429, 5xx, timeouts, and network failures; retried
	// with backoff up to the attempt cap, then degraded.
	ClassTransient Class = "transient"
	// ClassFatal covers authentication failures that abort the whole run.
	ClassFatal Class = "fatal"
)

// Response is the raw outcome of one physical HTTP attempt, as produced by
// the transport layer.
type Response struct {
	Status int
	Body   []byte
	Header http.Header
}

// Transport issues one physical request against the provider API.
type Transport interface {
	Do(ctx context.Context, endpoint string, params map[string]string) (*Response, error)
}

// Request describes one logical call. Non-idempotent requests are never
// retried unless explicitly marked safe.
type Request struct {
	Endpoint   string
	Params     map[string]string
	Idempotent bool
}

// Result is the two-branch outcome of a logical call: either a success with
// a body, or a classified failure. Callers must handle both paths; the
// executor never signals failure by panicking or by an unclassified error.
type Result struct {
	Class    Class
	Status   int
	Body     []byte
	Attempts int
	Err      error
}

// OK reports whether the call produced usable data.
func (r Result) OK() bool {
	return r.Class == ClassSuccess
}

// Executor performs one logical call with rate limiting, retry, and error
// classification. Every physical attempt, including retries, first passes
// through the run's Limiter.
type Executor struct {
	Transport Transport
	Limiter   *Limiter
	Logger    *logging.Logger

	// MaxAttempts caps physical attempts per logical call.
	MaxAttempts int
	// BackoffBase and BackoffCap bound the exponential backoff between
	// transient failures: min(base * 2^attempt, cap).
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// RetryAfterMax clamps a provider-supplied Retry-After wait.
	RetryAfterMax time.Duration
	// AttemptTimeout bounds one physical attempt; expiry is a transient
	// failure like any other network error.
	AttemptTimeout time.Duration

	// Interrupted, when set, is consulted before each attempt; a true value
	// stops the call without issuing further requests. In-flight attempts
	// are never force-cancelled.
	Interrupted func() bool

	sleep func(ctx context.Context, d time.Duration) error
}

const (
	defaultMaxAttempts    = 3
	defaultBackoffBase    = time.Second
	defaultBackoffCap     = 30 * time.Second
	defaultRetryAfterMax  = 15 * time.Second
	defaultAttemptTimeout = 30 * time.Second
)

// ErrAborted reports that the run was aborted before the call was issued.
var ErrAborted = fmt.Errorf("extraction aborted")

// FatalError reports a non-recoverable condition, such as rejected
// credentials, that must abort the entire run.
type FatalError struct {
	Endpoint string
	Status   int
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: authentication rejected (%d)", e.Endpoint, e.Status)
}

// IsFatal reports whether err is a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// Do performs the logical call described by req and returns its classified
// outcome. Transient failures are retried with backoff up to the attempt
// cap; permanent and fatal outcomes return after a single attempt.
func (e *Executor) Do(ctx context.Context, req Request) Result {
	if ctx == nil {
		ctx = context.Background()
	}

	maxAttempts := e.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}
	if !req.Idempotent {
		maxAttempts = 1
	}

	var last Result
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if e.Interrupted != nil && e.Interrupted() {
			return Result{Class: ClassTransient, Attempts: attempt - 1, Err: ErrAborted}
		}

		if e.Limiter != nil {
			if err := e.Limiter.Acquire(ctx); err != nil {
				return Result{Class: ClassTransient, Attempts: attempt - 1, Err: err}
			}
		}

		resp, err := e.attempt(ctx, req)
		last = e.classify(req, resp, err, attempt)

		wait := time.Duration(0)
		if last.Class == ClassTransient && attempt < maxAttempts {
			wait = e.retryWait(resp, attempt)
		}
		e.logAttempt(req.Endpoint, attempt, last, wait)

		if last.Class != ClassTransient {
			return last
		}
		if attempt == maxAttempts {
			break
		}
		if err := e.pause(ctx, wait); err != nil {
			last.Err = err
			return last
		}
	}

	return last
}

func (e *Executor) attempt(ctx context.Context, req Request) (*Response, error) {
	timeout := e.AttemptTimeout
	if timeout <= 0 {
		timeout = defaultAttemptTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return e.Transport.Do(attemptCtx, req.Endpoint, req.Params)
}

func (e *Executor) classify(req Request, resp *Response, err error, attempt int) Result {
	if err != nil {
		return Result{
			Class:    ClassTransient,
			Attempts: attempt,
			Err:      fmt.Errorf("%s: %w", req.Endpoint, err),
		}
	}

	result := Result{
		Status:   resp.Status,
		Body:     resp.Body,
		Attempts: attempt,
	}

	switch {
	case resp.Status >= 200 && resp.Status < 300:
		result.Class = ClassSuccess
	case resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden:
		result.Class = ClassFatal
		result.Err = &FatalError{Endpoint: req.Endpoint, Status: resp.Status}
	case resp.Status == http.StatusTooManyRequests || resp.Status >= 500:
		result.Class = ClassTransient
		result.Err = fmt.Errorf("%s: provider returned %d", req.Endpoint, resp.Status)
	default:
		result.Class = ClassPermanent
		result.Err = fmt.Errorf("%s: provider rejected request (%d)", req.Endpoint, resp.Status)
	}
	return result
}

// retryWait honors a clamped Retry-After header on 429s and falls back to
// capped exponential backoff otherwise.
func (e *Executor) retryWait(resp *Response, attempt int) time.Duration {
	clamp := e.RetryAfterMax
	if clamp <= 0 {
		clamp = defaultRetryAfterMax
	}

	if resp != nil && resp.Status == http.StatusTooManyRequests {
		if retryAfter := parseRetryAfter(resp.Header); retryAfter > 0 {
			if retryAfter > clamp {
				return clamp
			}
			return retryAfter
		}
	}

	base := e.BackoffBase
	if base <= 0 {
		base = defaultBackoffBase
	}
	ceiling := e.BackoffCap
	if ceiling <= 0 {
		ceiling = defaultBackoffCap
	}

	wait := base << uint(attempt-1)
	if wait > ceiling || wait <= 0 {
		return ceiling
	}
	return wait
}

func (e *Executor) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if e.sleep != nil {
		return e.sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

func (e *Executor) logAttempt(endpoint string, attempt int, result Result, wait time.Duration) {
	if e.Logger == nil {
		return
	}

	fields := []zap.Field{
		zap.String("endpoint", endpoint),
		zap.Int("attempt", attempt),
		zap.String("outcome", string(result.Class)),
		zap.Int("status", result.Status),
		zap.Duration("wait", wait),
	}

	switch result.Class {
	case ClassSuccess:
		e.Logger.Debug("Request completed", fields...)
	case ClassPermanent:
		e.Logger.Warn("Request rejected permanently", append(fields, zap.Error(result.Err))...)
	default:
		e.Logger.Warn("Request failed", append(fields, zap.Error(result.Err))...)
	}
}

func parseRetryAfter(header http.Header) time.Duration {
	if header == nil {
		return 0
	}
	raw := header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if parsed, err := http.ParseTime(raw); err == nil {
		return time.Until(parsed)
	}
	return 0
}
