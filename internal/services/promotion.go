package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"arena-registration/internal/models"
	"arena-registration/internal/repositories"
)

// PromotionScheduler moves queued teams to locked as capacity frees up
type PromotionScheduler struct {
	logger *slog.Logger
	now    Clock
}

// NewPromotionScheduler creates a promotion scheduler
func NewPromotionScheduler(logger *slog.Logger, now Clock) *PromotionScheduler {
	if now == nil {
		now = time.Now
	}
	return &PromotionScheduler{logger: logger, now: now}
}

// Promote locks queued teams in arrival order while the tournament has room
// for one more team. It must run inside the transaction that freed capacity,
// after the tournament row has been locked. It returns the promoted team ids.
func (p *PromotionScheduler) Promote(ctx context.Context, tx repositories.Tx, tournament *models.Tournament) ([]string, error) {
	queue, err := tx.ListQueuedTeams(ctx, tournament.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue of tournament %s: %w", tournament.ID, err)
	}
	if len(queue) == 0 {
		return nil, nil
	}

	locked, err := tx.CountLockedTeams(ctx, tournament.ID)
	if err != nil {
		return nil, err
	}

	var promoted []string
	for i := range queue {
		if !tournament.Fits(locked) {
			break
		}

		team := &queue[i]
		team.Lock(p.now())
		if err := tx.UpdateTeam(ctx, team); err != nil {
			return nil, fmt.Errorf("failed to promote team %s: %w", team.ID, err)
		}
		locked++
		promoted = append(promoted, team.ID)

		p.logger.Info("team promoted from queue",
			"team_id", team.ID,
			"tournament_id", tournament.ID,
			"locked_teams", locked,
		)
	}

	return promoted, nil
}
