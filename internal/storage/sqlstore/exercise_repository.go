package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/nosubvo/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/sqlc-dev/pqtype"
)

// ExerciseRepository implements domain.ExerciseRepository
type ExerciseRepository struct {
	q sqlx.ExtContext
}

type exerciseRow struct {
	ID         int64     `db:"id"`
	Title      string    `db:"title"`
	Text       string    `db:"text"`
	Language   string    `db:"language"`
	Difficulty string    `db:"difficulty"`
	Topic      string    `db:"topic"`
	Questions  []byte    `db:"questions"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

const exerciseColumns = `id, title, text, language, difficulty, topic, questions, created_at, updated_at`

func (r exerciseRow) toDomain() (*domain.Exercise, error) {
	e := &domain.Exercise{
		ID:         r.ID,
		Title:      r.Title,
		Text:       r.Text,
		Language:   r.Language,
		Difficulty: domain.Difficulty(r.Difficulty),
		Topic:      r.Topic,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if len(r.Questions) > 0 {
		if err := json.Unmarshal(r.Questions, &e.Questions); err != nil {
			return nil, fmt.Errorf("decode questions for exercise %d: %w", r.ID, err)
		}
	}
	if e.Questions == nil {
		e.Questions = []domain.Question{}
	}
	return e, nil
}

func questionsJSON(questions []domain.Question) (pqtype.NullRawMessage, error) {
	if questions == nil {
		questions = []domain.Question{}
	}
	data, err := json.Marshal(questions)
	if err != nil {
		return pqtype.NullRawMessage{}, fmt.Errorf("marshal questions: %w", err)
	}
	return pqtype.NullRawMessage{RawMessage: data, Valid: true}, nil
}

// Create inserts an exercise and sets its ID and timestamps
func (r *ExerciseRepository) Create(ctx context.Context, e *domain.Exercise) error {
	questions, err := questionsJSON(e.Questions)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	query := r.q.Rebind(`
		INSERT INTO exercises (title, text, language, difficulty, topic, questions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)

	var id int64
	err = sqlx.GetContext(ctx, r.q, &id, query,
		e.Title, e.Text, e.Language, string(e.Difficulty), e.Topic, questions, now, now)
	if err != nil {
		return fmt.Errorf("insert exercise: %w", err)
	}

	e.ID = id
	e.CreatedAt = now
	e.UpdatedAt = now
	return nil
}

// Get returns the exercise with id or domain.ErrExerciseNotFound
func (r *ExerciseRepository) Get(ctx context.Context, id int64) (*domain.Exercise, error) {
	var row exerciseRow
	err := sqlx.GetContext(ctx, r.q, &row,
		r.q.Rebind(`SELECT `+exerciseColumns+` FROM exercises WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrExerciseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get exercise: %w", err)
	}
	return row.toDomain()
}

// FindByTitle returns the exercise with the given title in language
func (r *ExerciseRepository) FindByTitle(ctx context.Context, language, title string) (*domain.Exercise, error) {
	var row exerciseRow
	err := sqlx.GetContext(ctx, r.q, &row,
		r.q.Rebind(`SELECT `+exerciseColumns+` FROM exercises WHERE language = ? AND title = ? ORDER BY id LIMIT 1`),
		language, title)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrExerciseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find exercise by title: %w", err)
	}
	return row.toDomain()
}

// FindCandidates returns id and difficulty of exercises in language,
// leaving out the excluded ids. Results are ordered by id.
func (r *ExerciseRepository) FindCandidates(ctx context.Context, language string, excluding []int64) ([]domain.ExerciseCandidate, error) {
	query := `SELECT id, difficulty FROM exercises WHERE language = ?`
	args := []any{language}

	if len(excluding) > 0 {
		var err error
		query, args, err = sqlx.In(query+` AND id NOT IN (?)`, language, excluding)
		if err != nil {
			return nil, fmt.Errorf("expand exclusions: %w", err)
		}
	}

	var candidates []domain.ExerciseCandidate
	if err := sqlx.SelectContext(ctx, r.q, &candidates, r.q.Rebind(query+` ORDER BY id`), args...); err != nil {
		return nil, fmt.Errorf("find candidate exercises: %w", err)
	}
	return candidates, nil
}

// List returns exercises matching filter
func (r *ExerciseRepository) List(ctx context.Context, filter domain.ExerciseFilter) ([]*domain.Exercise, error) {
	var (
		where []string
		args  []any
	)
	if filter.Language != "" {
		where = append(where, "language = ?")
		args = append(args, filter.Language)
	}
	if filter.Difficulty != "" {
		where = append(where, "difficulty = ?")
		args = append(args, string(filter.Difficulty))
	}
	if filter.Topic != "" {
		where = append(where, "topic = ?")
		args = append(args, filter.Topic)
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + exerciseColumns + ` FROM exercises`)
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	if filter.Random {
		b.WriteString(" ORDER BY RANDOM()")
	} else {
		b.WriteString(" ORDER BY id")
	}
	if filter.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, filter.Limit)
	}

	var rows []exerciseRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, r.q.Rebind(b.String()), args...); err != nil {
		return nil, fmt.Errorf("list exercises: %w", err)
	}

	exercises := make([]*domain.Exercise, 0, len(rows))
	for _, row := range rows {
		e, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		exercises = append(exercises, e)
	}
	return exercises, nil
}

// UpdateQuestions replaces the questions of an exercise
func (r *ExerciseRepository) UpdateQuestions(ctx context.Context, id int64, questions []domain.Question) error {
	data, err := questionsJSON(questions)
	if err != nil {
		return err
	}

	res, err := r.q.ExecContext(ctx,
		r.q.Rebind(`UPDATE exercises SET questions = ?, updated_at = ? WHERE id = ?`),
		data, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update questions: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrExerciseNotFound
	}
	return nil
}

// Stats counts exercises by language, difficulty and topic
func (r *ExerciseRepository) Stats(ctx context.Context) (*domain.CatalogStats, error) {
	stats := &domain.CatalogStats{
		ByLanguage:   map[string]int{},
		ByDifficulty: map[string]int{},
		ByTopic:      map[string]int{},
	}

	if err := sqlx.GetContext(ctx, r.q, &stats.Total, `SELECT COUNT(*) FROM exercises`); err != nil {
		return nil, fmt.Errorf("count exercises: %w", err)
	}

	groups := []struct {
		column string
		into   map[string]int
	}{
		{"language", stats.ByLanguage},
		{"difficulty", stats.ByDifficulty},
		{"topic", stats.ByTopic},
	}
	for _, g := range groups {
		var rows []struct {
			Key   string `db:"k"`
			Count int    `db:"n"`
		}
		query := fmt.Sprintf(`SELECT %s AS k, COUNT(*) AS n FROM exercises GROUP BY %s`, g.column, g.column)
		if err := sqlx.SelectContext(ctx, r.q, &rows, query); err != nil {
			return nil, fmt.Errorf("count exercises by %s: %w", g.column, err)
		}
		for _, row := range rows {
			g.into[row.Key] = row.Count
		}
	}

	return stats, nil
}

var _ domain.ExerciseRepository = (*ExerciseRepository)(nil)
