package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"kisanmandi/pkg/config"
)

type mockOffers struct {
	mock.Mock
}

func (m *mockOffers) ExpireStale(ctx context.Context, ttl time.Duration) (int, error) {
	args := m.Called(ctx, ttl)
	return args.Int(0), args.Error(1)
}

func (m *mockOffers) ReconcilePayments(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockOffers) ReconcileMessages(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type sweeper struct{ calls chan struct{} }

func (s *sweeper) SweepStale(context.Context) (int, error) {
	select {
	case s.calls <- struct{}{}:
	default:
	}
	return 1, nil
}

func TestOfferSweep_ExpiresThenReconciles(t *testing.T) {
	svc := new(mockOffers)
	svc.On("ExpireStale", mock.Anything, 72*time.Hour).Return(2, nil).Once()
	svc.On("ReconcilePayments", mock.Anything).Return(1, nil).Once()
	svc.On("ReconcileMessages", mock.Anything).Return(4, nil).Once()

	n, err := OfferSweep(svc, 72*time.Hour)(context.Background())

	require.NoError(t, err)
	require.Equal(t, 7, n)
	svc.AssertExpectations(t)
}

func TestOfferSweep_StopsOnExpireFailure(t *testing.T) {
	svc := new(mockOffers)
	svc.On("ExpireStale", mock.Anything, time.Hour).Return(0, errors.New("db down"))

	_, err := OfferSweep(svc, time.Hour)(context.Background())

	require.ErrorContains(t, err, "expire offers")
	svc.AssertNotCalled(t, "ReconcilePayments", mock.Anything)
	svc.AssertNotCalled(t, "ReconcileMessages", mock.Anything)
}

func TestOfferSweep_ReportsMessageFailure(t *testing.T) {
	svc := new(mockOffers)
	svc.On("ExpireStale", mock.Anything, time.Hour).Return(0, nil)
	svc.On("ReconcilePayments", mock.Anything).Return(0, nil)
	svc.On("ReconcileMessages", mock.Anything).Return(0, errors.New("db down"))

	_, err := OfferSweep(svc, time.Hour)(context.Background())

	require.ErrorContains(t, err, "reconcile offer messages")
}

func TestScheduler_RejectsBadSchedule(t *testing.T) {
	s := NewScheduler()
	err := s.Add("broken", "every five minutes", func(context.Context) (int, error) { return 0, nil })
	require.Error(t, err)
	require.Empty(t, s.Entries())
}

func TestRegister_UsesConfiguredSchedules(t *testing.T) {
	cfg := config.Default()
	s := NewScheduler()
	require.NoError(t, Register(s, cfg, new(mockOffers), &sweeper{}))
	require.Len(t, s.Entries(), 2)

	cfg.Jobs.OfferSweep = ""
	s = NewScheduler()
	require.NoError(t, Register(s, cfg, new(mockOffers), &sweeper{}))
	require.Len(t, s.Entries(), 1)
}

func TestScheduler_RunsTasks(t *testing.T) {
	sw := &sweeper{calls: make(chan struct{}, 1)}
	s := NewScheduler()
	require.NoError(t, s.Add("presence-sweep", "@every 1s", PresenceSweep(sw)))
	s.Start()
	defer s.Stop(context.Background())

	select {
	case <-sw.calls:
	case <-time.After(3 * time.Second):
		t.Fatal("presence sweep never ran")
	}
}
