package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.pilab.hu/authz/domain"
)

// TimeoutTokenStore bounds every call of the wrapped store. A call that does
// not finish in time fails with domain.ErrTimeout.
type TimeoutTokenStore struct {
	next    domain.TokenStore
	timeout time.Duration
}

// NewTimeoutTokenStore wraps next. A non-positive timeout disables the bound.
func NewTimeoutTokenStore(next domain.TokenStore, timeout time.Duration) *TimeoutTokenStore {
	return &TimeoutTokenStore{next: next, timeout: timeout}
}

func (s *TimeoutTokenStore) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.timeout <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := fn(ctx)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrTimeout) {
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}

	return err
}

func (s *TimeoutTokenStore) Save(ctx context.Context, access *domain.TokenRecord, refresh *domain.TokenRecord) error {
	return s.call(ctx, func(ctx context.Context) error {
		return s.next.Save(ctx, access, refresh)
	})
}

func (s *TimeoutTokenStore) Load(ctx context.Context, value string) (*domain.TokenRecord, error) {
	var rec *domain.TokenRecord
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		rec, err = s.next.Load(ctx, value)
		return err
	})
	return rec, err
}

func (s *TimeoutTokenStore) LoadByRefreshToken(ctx context.Context, refreshValue string) (*domain.TokenRecord, error) {
	var rec *domain.TokenRecord
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		rec, err = s.next.LoadByRefreshToken(ctx, refreshValue)
		return err
	})
	return rec, err
}

func (s *TimeoutTokenStore) Revoke(ctx context.Context, value string) error {
	return s.call(ctx, func(ctx context.Context) error {
		return s.next.Revoke(ctx, value)
	})
}

var _ domain.TokenStore = (*TimeoutTokenStore)(nil)
