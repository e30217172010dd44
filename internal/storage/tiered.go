package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"hemicycle/internal/models"
)

// Tiered reads from a fast front store and falls back to the primary for
// misses, copying primary hits forward. Writes go to the primary first.
// Front-store failures are logged and never fail a call.
type Tiered struct {
	front   Store
	primary Store
	logger  *slog.Logger
}

func NewTiered(front, primary Store, logger *slog.Logger) *Tiered {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tiered{front: front, primary: primary, logger: logger}
}

func (t *Tiered) BatchGet(ctx context.Context, ids []string, legislature string) ([]models.DeputyRecord, error) {
	hits, err := t.front.BatchGet(ctx, ids, legislature)
	if err != nil {
		t.logger.WarnContext(ctx, "front store read failed", "legislature", legislature, "error", err)
		hits = nil
	}

	seen := make(map[string]struct{}, len(hits))
	for _, d := range hits {
		seen[d.ID] = struct{}{}
	}
	var misses []string
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			misses = append(misses, id)
		}
	}
	if len(misses) == 0 {
		return hits, nil
	}

	fromPrimary, err := t.primary.BatchGet(ctx, misses, legislature)
	if err != nil {
		if len(hits) > 0 {
			t.logger.WarnContext(ctx, "primary store read failed, returning front hits only",
				"legislature", legislature, "misses", len(misses), "error", err)
			return hits, nil
		}
		return nil, err
	}

	if len(fromPrimary) > 0 {
		if _, err := t.front.SaveDeputies(ctx, legislature, fromPrimary); err != nil {
			t.logger.WarnContext(ctx, "front store backfill failed", "legislature", legislature, "error", err)
		}
	}
	return append(hits, fromPrimary...), nil
}

// Count is answered by the primary, which holds the full table.
func (t *Tiered) Count(ctx context.Context, legislature string) (int, error) {
	return t.primary.Count(ctx, legislature)
}

func (t *Tiered) SaveDeputies(ctx context.Context, legislature string, records []models.DeputyRecord) (int, error) {
	n, err := t.primary.SaveDeputies(ctx, legislature, records)
	if err != nil {
		return 0, fmt.Errorf("save to primary store: %w", err)
	}
	if _, err := t.front.SaveDeputies(ctx, legislature, records); err != nil {
		t.logger.WarnContext(ctx, "front store write failed", "legislature", legislature, "error", err)
	}
	return n, nil
}

func (t *Tiered) Close() error {
	return errors.Join(t.front.Close(), t.primary.Close())
}
