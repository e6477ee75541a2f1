// Package jobs is the at-least-once job execution layer: Redis lists for
// ready and in-flight work, a sorted set for delayed retries and a list of
// dead letters that are kept for inspection.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Job is the envelope stored in Redis.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	LastError   string          `json:"last_error,omitempty"`
}

// Decode unmarshals the payload into dst.
func (j Job) Decode(dst any) error {
	return json.Unmarshal(j.Payload, dst)
}

// Policy bounds one queue.
type Policy struct {
	Concurrency int
	MaxAttempts int
	BaseBackoff time.Duration
}

// Backoff is BaseBackoff × 2^(attempt-1) for the attempt that just failed.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 20 {
		attempt = 20
	}
	return p.BaseBackoff * time.Duration(1<<(attempt-1))
}

func (p Policy) normalized() Policy {
	if p.Concurrency <= 0 {
		p.Concurrency = 1
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = time.Second
	}
	return p
}

type Handler func(ctx context.Context, job Job) error

// Enqueuer is the only contract producers depend on.
type Enqueuer interface {
	Enqueue(ctx context.Context, queue, jobType string, payload any) (string, error)
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The job goes straight to the
// dead-letter list.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}
