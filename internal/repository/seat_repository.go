package repository // repository defines data access for seats

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iliyamo/ticket-admission/internal/apperr"
	"github.com/iliyamo/ticket-admission/internal/model"
)

const seatColumns = `id, session_id, seat_number, status, price, created_at, updated_at`

// SeatRepo provides methods to work with seats in the database.
type SeatRepo struct {
	db *sql.DB
}

// NewSeatRepo constructs a SeatRepo with the given DB handle.
func NewSeatRepo(db *sql.DB) *SeatRepo {
	return &SeatRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSeat(row rowScanner) (model.Seat, error) {
	var s model.Seat
	err := row.Scan(&s.ID, &s.SessionID, &s.SeatNumber, &s.Status, &s.Price, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

// Create inserts a single seat record. On success the seat's ID is populated.
// A duplicate seat number within the session maps to apperr.ErrConflict.
func (r *SeatRepo) Create(ctx context.Context, s *model.Seat) error {
	if s.Status == "" {
		s.Status = model.SeatAvailable
	}
	const q = `INSERT INTO seats (session_id, seat_number, status, price) VALUES (?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, s.SessionID, s.SeatNumber, s.Status, s.Price)
	if err != nil {
		return translate(err, fmt.Sprintf("seat %s", s.SeatNumber))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = uint64(id)
	return nil
}

// GetByID retrieves a seat by its id.
func (r *SeatRepo) GetByID(ctx context.Context, id uint64) (model.Seat, error) {
	q := `SELECT ` + seatColumns + ` FROM seats WHERE id = ?`
	s, err := scanSeat(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return model.Seat{}, translate(err, fmt.Sprintf("seat %d", id))
	}
	return s, nil
}

// ListBySession returns every seat of a session ordered by id.
func (r *SeatRepo) ListBySession(ctx context.Context, sessionID uint64) ([]model.Seat, error) {
	q := `SELECT ` + seatColumns + ` FROM seats WHERE session_id = ? ORDER BY id`
	rows, err := r.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]model.Seat, 0)
	for rows.Next() {
		s, err := scanSeat(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// GetForUpdateTx reads a seat and takes its row lock for the rest of tx.
// Only this row is locked; other seats stay fully concurrent.
func (r *SeatRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Seat, error) {
	q := `SELECT ` + seatColumns + ` FROM seats WHERE id = ? FOR UPDATE`
	s, err := scanSeat(tx.QueryRowContext(ctx, q, id))
	if err != nil {
		return model.Seat{}, translate(err, fmt.Sprintf("seat %d", id))
	}
	return s, nil
}

// UpdateStatusTx moves a seat from one status to another.  The WHERE clause
// re-checks the expected status so a stale decision can never be written.
func (r *SeatRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id uint64, from, to model.SeatStatus) error {
	const q = `UPDATE seats SET status = ? WHERE id = ? AND status = ?`
	res, err := tx.ExecContext(ctx, q, to, id, from)
	if err != nil {
		return translate(err, fmt.Sprintf("seat %d", id))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("%w: seat %d is not %s", apperr.ErrInvalidState, id, from)
	}
	return nil
}
