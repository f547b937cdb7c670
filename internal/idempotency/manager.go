// Package idempotency replays the stored response of a completed request when
// a client retries it with the same Idempotency-Key.
package idempotency

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

var (
	ErrRequestInProgress = errors.New("request with this key is already in progress")
	ErrKeyReused         = errors.New("idempotency key was used for a different request")
)

const (
	lockTTL      = 5 * time.Minute
	pollInterval = 100 * time.Millisecond
)

// Response is what an operation produced. Only responses that Cacheable
// accepts are stored.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Cacheable reports whether the response is final. Server errors are not
// stored so the client can retry them.
func (r *Response) Cacheable() bool {
	return r != nil && r.StatusCode > 0 && r.StatusCode < 500
}

type Operation func(ctx context.Context) (*Response, error)

type Result struct {
	Response  *Response
	FromCache bool
}

type Manager interface {
	// Execute runs fn at most once per key within ttl. fingerprint describes
	// the request; a stored record with another fingerprint yields ErrKeyReused.
	Execute(ctx context.Context, key, fingerprint string, ttl time.Duration, fn Operation) (*Result, error)
}

type manager struct {
	store   Store
	log     *slog.Logger
	maxWait time.Duration
}

// NewManager creates a Manager. A concurrent duplicate waits up to maxWait
// for the first request to finish before failing with ErrRequestInProgress.
func NewManager(store Store, maxWait time.Duration, log *slog.Logger) Manager {
	if log == nil {
		log = slog.Default()
	}

	return &manager{
		store:   store,
		log:     log,
		maxWait: maxWait,
	}
}

func (m *manager) Execute(ctx context.Context, key, fingerprint string, ttl time.Duration, fn Operation) (*Result, error) {
	if fn == nil {
		return nil, errors.New("operation fn cannot be nil")
	}

	deadline := time.Now().Add(m.maxWait)

	for {
		if res, err := m.replay(ctx, key, fingerprint); err != nil || res != nil {
			return res, err
		}

		locked, err := m.store.Lock(ctx, key, lockTTL)
		if err != nil {
			return nil, err
		}

		if !locked {
			if time.Now().After(deadline) {
				return nil, ErrRequestInProgress
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(pollInterval):
				continue
			}
		}

		// The holder before us may have stored its response between our
		// first lookup and taking the lock.
		res, err := m.replay(ctx, key, fingerprint)
		if err != nil || res != nil {
			m.release(ctx, key)
			return res, err
		}

		return m.run(ctx, key, fingerprint, ttl, fn)
	}
}

// replay returns the stored response for key, or nil when none is completed.
func (m *manager) replay(ctx context.Context, key, fingerprint string) (*Result, error) {
	record, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if record == nil || record.Status != StatusCompleted {
		return nil, nil
	}
	if record.Fingerprint != fingerprint {
		return nil, ErrKeyReused
	}

	return &Result{
		Response: &Response{
			StatusCode:  record.StatusCode,
			ContentType: record.ContentType,
			Body:        record.Body,
		},
		FromCache: true,
	}, nil
}

func (m *manager) release(ctx context.Context, key string) {
	if err := m.store.ReleaseLock(context.WithoutCancel(ctx), key); err != nil {
		m.log.Warn("idempotency lock not released", slog.String("key", key), slog.Any("error", err))
	}
}

func (m *manager) run(ctx context.Context, key, fingerprint string, ttl time.Duration, fn Operation) (*Result, error) {
	defer m.release(ctx, key)

	resp, err := fn(ctx)
	if err != nil {
		return nil, err
	}

	if resp.Cacheable() {
		if err := m.store.Set(ctx, key, &Record{
			Status:      StatusCompleted,
			Fingerprint: fingerprint,
			StatusCode:  resp.StatusCode,
			ContentType: resp.ContentType,
			Body:        resp.Body,
		}, ttl); err != nil {
			// The operation already ran; report its response anyway.
			m.log.Error("idempotency record not stored", slog.String("key", key), slog.Any("error", err))
		}
	}

	return &Result{Response: resp}, nil
}
