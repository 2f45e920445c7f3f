package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type purgerFunc func(ctx context.Context, cutoff time.Time) (int64, error)

func (f purgerFunc) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	return f(ctx, cutoff)
}

func (f purgerFunc) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	return f(ctx, cutoff)
}

func TestPurgeUsesGraceCutoff(t *testing.T) {
	now := time.Date(2024, 5, 1, 3, 30, 0, 0, time.UTC)
	var sessionCutoff, credentialCutoff time.Time

	s := NewScheduler("0 30 3 * * *",
		purgerFunc(func(_ context.Context, cutoff time.Time) (int64, error) {
			sessionCutoff = cutoff
			return 3, nil
		}),
		purgerFunc(func(_ context.Context, cutoff time.Time) (int64, error) {
			credentialCutoff = cutoff
			return 0, errors.New("db down")
		}),
		zerolog.Nop(),
	)
	s.now = func() time.Time { return now }

	s.purge()

	assert.Equal(t, now.Add(-24*time.Hour), sessionCutoff)
	assert.Equal(t, now.Add(-24*time.Hour), credentialCutoff)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := NewScheduler("every tuesday", nil, nil, zerolog.Nop())
	assert.Error(t, s.Start())
}

func TestStartStop(t *testing.T) {
	s := NewScheduler("0 30 3 * * *", nil, nil, zerolog.Nop())
	require.NoError(t, s.Start())
	s.Stop()

	disabled := NewScheduler("", nil, nil, zerolog.Nop())
	require.NoError(t, disabled.Start())
}
