package sqlstore

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/nosubvo/internal/domain"
	"github.com/jmoiron/sqlx"
)

// UnitOfWork implements domain.UnitOfWork. The value returned by
// NewUnitOfWork runs each call in its own implicit transaction; Begin
// returns a copy scoped to one database transaction.
type UnitOfWork struct {
	db *DB
	tx *sqlx.Tx
	q  sqlx.ExtContext

	// Lazy-initialized repositories
	exercises *ExerciseRepository
	progress  *ProgressRepository
	queue     *QueueRepository
	users     *UserRepository
}

// NewUnitOfWork creates a UnitOfWork bound to db
func NewUnitOfWork(db *DB) *UnitOfWork {
	return &UnitOfWork{db: db, q: db.DB}
}

// Begin starts a new unit of work with a transaction
func (uow *UnitOfWork) Begin(ctx context.Context) (domain.UnitOfWork, error) {
	tx, err := uow.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	return &UnitOfWork{
		db: uow.db,
		tx: tx,
		q:  tx,
	}, nil
}

// Commit commits the transaction
func (uow *UnitOfWork) Commit() error {
	if uow.tx == nil {
		return nil
	}
	return uow.tx.Commit()
}

// Rollback rolls back the transaction
func (uow *UnitOfWork) Rollback() error {
	if uow.tx == nil {
		return nil
	}
	return uow.tx.Rollback()
}

// Exercises returns the exercise repository
func (uow *UnitOfWork) Exercises() domain.ExerciseRepository {
	if uow.exercises == nil {
		uow.exercises = &ExerciseRepository{q: uow.q}
	}
	return uow.exercises
}

// Progress returns the progress ledger repository
func (uow *UnitOfWork) Progress() domain.ProgressRepository {
	if uow.progress == nil {
		uow.progress = &ProgressRepository{q: uow.q}
	}
	return uow.progress
}

// Queue returns the user queue repository
func (uow *UnitOfWork) Queue() domain.QueueRepository {
	if uow.queue == nil {
		uow.queue = &QueueRepository{q: uow.q, sqlite: uow.db.IsSQLite()}
	}
	return uow.queue
}

// Users returns the user repository
func (uow *UnitOfWork) Users() domain.UserRepository {
	if uow.users == nil {
		uow.users = &UserRepository{q: uow.q}
	}
	return uow.users
}

var (
	_ domain.UnitOfWork = (*UnitOfWork)(nil)
	_ domain.Transactor = (*UnitOfWork)(nil)
)
