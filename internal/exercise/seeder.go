package exercise

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/nosubvo/internal/domain"
)

// SeedResult counts what a seed run did
type SeedResult struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
}

// Seeder inserts catalog exercises that are not already stored.
// Exercises match on (language, title).
type Seeder struct {
	tx     domain.Transactor
	logger *slog.Logger
}

// NewSeeder creates a seeder writing through tx
func NewSeeder(tx domain.Transactor, logger *slog.Logger) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{tx: tx, logger: logger}
}

// Seed stores exercises in one transaction
func (s *Seeder) Seed(ctx context.Context, exercises []*domain.Exercise) (SeedResult, error) {
	var res SeedResult

	uow, err := s.tx.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("begin: %w", err)
	}

	for _, ex := range exercises {
		inserted, err := seedOne(ctx, uow.Exercises(), ex)
		if err != nil {
			_ = uow.Rollback()
			return SeedResult{}, fmt.Errorf("seed %q: %w", ex.Title, err)
		}
		if inserted {
			res.Inserted++
		} else {
			res.Skipped++
		}
	}

	if err := uow.Commit(); err != nil {
		return SeedResult{}, fmt.Errorf("commit: %w", err)
	}

	s.logger.Info("catalog seeded", "inserted", res.Inserted, "skipped", res.Skipped)
	return res, nil
}

// SeedDir loads every pack under dir and seeds its exercises
func (s *Seeder) SeedDir(ctx context.Context, dir string) (SeedResult, error) {
	packs, err := NewLoader(dir).LoadAllPacks()
	if err != nil {
		return SeedResult{}, err
	}

	var all []*domain.Exercise
	for _, p := range packs {
		s.logger.Debug("loaded pack", "pack", p.ID, "exercises", len(p.Exercises))
		all = append(all, p.Exercises...)
	}
	return s.Seed(ctx, all)
}

func seedOne(ctx context.Context, repo domain.ExerciseRepository, ex *domain.Exercise) (bool, error) {
	ex.ApplyDefaults()

	_, err := repo.FindByTitle(ctx, ex.Language, ex.Title)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, domain.ErrExerciseNotFound):
		return false, err
	}

	if err := repo.Create(ctx, ex); err != nil {
		return false, err
	}
	return true, nil
}
