// Package fraud implements the anti-fraud checks around the escrow workflow:
// GPS proof verification, escrow-circumvention pattern detection and account
// flagging. Counters and flags live in Redis with explicit TTLs; nothing here
// is process-global.
package fraud

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/prosartisan/prosartisan/internal/shared"
)

// Config tunes the detection thresholds.
type Config struct {
	// MaxAccuracyMeters rejects GPS proofs reported with worse accuracy.
	MaxAccuracyMeters float64
	// CircumventionThreshold flags a pair after this many off-platform
	// payment attempts within the window.
	CircumventionThreshold int64
	// CircumventionWindow is the counting window for attempts.
	CircumventionWindow time.Duration
	// FlagTTL is how long an account stays blocked once flagged.
	FlagTTL time.Duration
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		MaxAccuracyMeters:      10,
		CircumventionThreshold: 3,
		CircumventionWindow:    30 * 24 * time.Hour,
		FlagTTL:                90 * 24 * time.Hour,
	}
}

// Service runs the anti-fraud checks.
type Service struct {
	rdb    *redis.Client
	cfg    Config
	logger *slog.Logger
}

// NewService builds a Service instance.
func NewService(rdb *redis.Client, cfg Config, logger *slog.Logger) *Service {
	if cfg.MaxAccuracyMeters <= 0 {
		cfg.MaxAccuracyMeters = 10
	}
	if cfg.CircumventionThreshold <= 0 {
		cfg.CircumventionThreshold = 3
	}
	if cfg.CircumventionWindow <= 0 {
		cfg.CircumventionWindow = 30 * 24 * time.Hour
	}
	if cfg.FlagTTL <= 0 {
		cfg.FlagTTL = 90 * 24 * time.Hour
	}
	return &Service{rdb: rdb, cfg: cfg, logger: logger}
}

// VerifyLocationProof rejects coordinates whose reported accuracy is worse
// than the threshold. Coordinates without a reported accuracy pass; the
// proximity gate still applies to them.
func (s *Service) VerifyLocationProof(locs ...shared.Coordinates) error {
	for _, loc := range locs {
		if loc.Accuracy >= 0 && !loc.AccuracyAcceptable(s.cfg.MaxAccuracyMeters) {
			return fmt.Errorf("%w: gps accuracy %.0fm worse than %.0fm threshold",
				shared.ErrValidation, loc.Accuracy, s.cfg.MaxAccuracyMeters)
		}
	}
	return nil
}

// VerifyProximity checks that two parties stand within limitMeters of each
// other and returns the measured distance.
func (s *Service) VerifyProximity(a, b shared.Coordinates, limitMeters float64) (float64, error) {
	distance := a.DistanceMeters(b)
	if distance > limitMeters {
		return distance, fmt.Errorf("%w: %.0fm apart, limit %.0fm", shared.ErrProximityViolation, distance, limitMeters)
	}
	return distance, nil
}

// ReportCircumventionAttempt counts an off-platform payment attempt between
// a client and an artisan. Past the threshold, both accounts are flagged.
func (s *Service) ReportCircumventionAttempt(ctx context.Context, clientID, artisanID uuid.UUID) error {
	key := circumventionKey(clientID, artisanID)
	count, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("fraud: count attempt: %w", err)
	}
	if count == 1 {
		if err := s.rdb.Expire(ctx, key, s.cfg.CircumventionWindow).Err(); err != nil {
			return fmt.Errorf("fraud: set attempt window: %w", err)
		}
	}
	if count >= s.cfg.CircumventionThreshold {
		s.logger.Warn("escrow circumvention pattern detected",
			slog.String("client_id", clientID.String()),
			slog.String("artisan_id", artisanID.String()),
			slog.Int64("attempts", count))
		if err := s.FlagAccount(ctx, clientID, "escrow circumvention"); err != nil {
			return err
		}
		if err := s.FlagAccount(ctx, artisanID, "escrow circumvention"); err != nil {
			return err
		}
	}
	return nil
}

// FlagAccount blocks an account from financial operations for the flag TTL.
func (s *Service) FlagAccount(ctx context.Context, userID uuid.UUID, reason string) error {
	if err := s.rdb.Set(ctx, flagKey(userID), reason, s.cfg.FlagTTL).Err(); err != nil {
		return fmt.Errorf("fraud: flag account: %w", err)
	}
	s.logger.Warn("account flagged", slog.String("user_id", userID.String()), slog.String("reason", reason))
	return nil
}

// EnsureNotFlagged fails with ErrAccountFlagged when the account is blocked.
// A Redis outage fails open with a log line rather than freezing all
// redemptions.
func (s *Service) EnsureNotFlagged(ctx context.Context, userID uuid.UUID) error {
	reason, err := s.rdb.Get(ctx, flagKey(userID)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		s.logger.Warn("fraud flag lookup failed", slog.String("user_id", userID.String()), slog.Any("error", err))
		return nil
	}
	return fmt.Errorf("%w: %s", shared.ErrAccountFlagged, reason)
}

// Unflag lifts a flag, used by support tooling after manual review.
func (s *Service) Unflag(ctx context.Context, userID uuid.UUID) error {
	return s.rdb.Del(ctx, flagKey(userID)).Err()
}

func flagKey(userID uuid.UUID) string {
	return "fraud:flag:" + userID.String()
}

func circumventionKey(clientID, artisanID uuid.UUID) string {
	return fmt.Sprintf("fraud:circumvention:%s:%s", clientID, artisanID)
}
