package fraud

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prosartisan/prosartisan/internal/shared"
)

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	svc := NewService(client, DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc, mr
}

func TestVerifyLocationProof(t *testing.T) {
	svc, _ := newTestService(t)

	good, err := shared.NewCoordinates(5.3248, -4.0194)
	require.NoError(t, err)
	good, err = good.WithAccuracy(5)
	require.NoError(t, err)

	bad, err := shared.NewCoordinates(5.3248, -4.0194)
	require.NoError(t, err)
	bad, err = bad.WithAccuracy(25)
	require.NoError(t, err)

	unknown, err := shared.NewCoordinates(5.3248, -4.0194)
	require.NoError(t, err)

	require.NoError(t, svc.VerifyLocationProof(good))
	require.NoError(t, svc.VerifyLocationProof(unknown))
	require.ErrorIs(t, svc.VerifyLocationProof(good, bad), shared.ErrValidation)
}

func TestVerifyProximity(t *testing.T) {
	svc, _ := newTestService(t)

	a, err := shared.NewCoordinates(5.3248, -4.0194)
	require.NoError(t, err)
	b, err := shared.NewCoordinates(5.32507, -4.0194) // ~30m north
	require.NoError(t, err)
	far, err := shared.NewCoordinates(5.3329, -4.0194) // ~900m north
	require.NoError(t, err)

	dist, err := svc.VerifyProximity(a, b, 100)
	require.NoError(t, err)
	assert.InDelta(t, 30, dist, 5)

	dist, err = svc.VerifyProximity(a, far, 100)
	require.ErrorIs(t, err, shared.ErrProximityViolation)
	assert.Greater(t, dist, 100.0)
}

func TestFlagAndEnsure(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, svc.EnsureNotFlagged(ctx, userID))

	require.NoError(t, svc.FlagAccount(ctx, userID, "manual review"))
	err := svc.EnsureNotFlagged(ctx, userID)
	require.ErrorIs(t, err, shared.ErrAccountFlagged)
	assert.Contains(t, err.Error(), "manual review")

	require.NoError(t, svc.Unflag(ctx, userID))
	require.NoError(t, svc.EnsureNotFlagged(ctx, userID))
}

func TestFlagExpires(t *testing.T) {
	svc, mr := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, svc.FlagAccount(ctx, userID, "escrow circumvention"))
	mr.FastForward(91 * 24 * time.Hour)
	require.NoError(t, svc.EnsureNotFlagged(ctx, userID))
}

func TestCircumventionThresholdFlagsBothParties(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	clientID, artisanID := uuid.New(), uuid.New()

	for i := 0; i < 2; i++ {
		require.NoError(t, svc.ReportCircumventionAttempt(ctx, clientID, artisanID))
		require.NoError(t, svc.EnsureNotFlagged(ctx, clientID))
		require.NoError(t, svc.EnsureNotFlagged(ctx, artisanID))
	}

	// Third attempt crosses the threshold.
	require.NoError(t, svc.ReportCircumventionAttempt(ctx, clientID, artisanID))
	require.ErrorIs(t, svc.EnsureNotFlagged(ctx, clientID), shared.ErrAccountFlagged)
	require.ErrorIs(t, svc.EnsureNotFlagged(ctx, artisanID), shared.ErrAccountFlagged)
}

func TestCircumventionCounterWindowResets(t *testing.T) {
	svc, mr := newTestService(t)
	ctx := context.Background()
	clientID, artisanID := uuid.New(), uuid.New()

	require.NoError(t, svc.ReportCircumventionAttempt(ctx, clientID, artisanID))
	require.NoError(t, svc.ReportCircumventionAttempt(ctx, clientID, artisanID))

	// The window lapses; the pair starts from a clean slate.
	mr.FastForward(31 * 24 * time.Hour)
	require.NoError(t, svc.ReportCircumventionAttempt(ctx, clientID, artisanID))
	require.NoError(t, svc.EnsureNotFlagged(ctx, clientID))
}

func TestEnsureNotFlaggedFailsOpenOnOutage(t *testing.T) {
	svc, mr := newTestService(t)
	ctx := context.Background()

	mr.Close()
	require.NoError(t, svc.EnsureNotFlagged(ctx, uuid.New()))
}
