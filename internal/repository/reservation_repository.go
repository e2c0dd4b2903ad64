package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/iliyamo/ticket-admission/internal/apperr"
	"github.com/iliyamo/ticket-admission/internal/model"
)

const reservationColumns = `id, user_id, seat_id, session_id, price, status, reserved_at, expires_at, updated_at`

// ReservationRepo provides data access to the reservations table.  All
// timestamp fields are stored in UTC.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

func scanReservation(row rowScanner) (model.Reservation, error) {
	var r model.Reservation
	err := row.Scan(&r.ID, &r.UserID, &r.SeatID, &r.SessionID, &r.Price, &r.Status,
		&r.ReservedAt, &r.ExpiresAt, &r.UpdatedAt)
	return r, err
}

// CreateTx inserts a new reservation within the scope of an existing
// transaction and populates its generated ID.  The unique index on the
// live_seat_id generated column rejects a second live reservation for the
// same seat with apperr.ErrConflict.
func (r *ReservationRepo) CreateTx(ctx context.Context, tx *sql.Tx, res *model.Reservation) error {
	const q = `INSERT INTO reservations (user_id, seat_id, session_id, price, status, reserved_at, expires_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res.UpdatedAt = res.ReservedAt
	result, err := tx.ExecContext(ctx, q, res.UserID, res.SeatID, res.SessionID, res.Price, res.Status,
		res.ReservedAt.UTC(), res.ExpiresAt.UTC(), res.UpdatedAt.UTC())
	if err != nil {
		return translate(err, fmt.Sprintf("reservation for seat %d", res.SeatID))
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	res.ID = uint64(id)
	return nil
}

// GetByID loads a reservation without locking.
func (r *ReservationRepo) GetByID(ctx context.Context, id uint64) (model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`
	res, err := scanReservation(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return model.Reservation{}, translate(err, fmt.Sprintf("reservation %d", id))
	}
	return res, nil
}

// GetForUpdateTx reads the latest committed reservation row and locks it.
// A locking read bypasses the transaction snapshot, so the status seen
// here is the one the following update will guard on.
func (r *ReservationRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ? FOR UPDATE`
	res, err := scanReservation(tx.QueryRowContext(ctx, q, id))
	if err != nil {
		return model.Reservation{}, translate(err, fmt.Sprintf("reservation %d", id))
	}
	return res, nil
}

// LiveBySeatTx returns the PENDING or CONFIRMED reservation of a seat, or
// nil.
func (r *ReservationRepo) LiveBySeatTx(ctx context.Context, tx *sql.Tx, seatID uint64) (*model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations WHERE live_seat_id = ? FOR UPDATE`
	res, err := scanReservation(tx.QueryRowContext(ctx, q, seatID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, translate(err, fmt.Sprintf("live reservation of seat %d", seatID))
	}
	return &res, nil
}

// HasLiveBySeat is the lock-free existence check used as a fast path
// before a reservation is attempted.
func (r *ReservationRepo) HasLiveBySeat(ctx context.Context, seatID uint64) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM reservations WHERE live_seat_id = ? LIMIT 1`, seatID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpdateStatusTx moves a reservation between statuses, guarded on the
// expected current status.
func (r *ReservationRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id uint64, from, to model.ReservationStatus, at time.Time) error {
	const q = `UPDATE reservations SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	res, err := tx.ExecContext(ctx, q, to, at.UTC(), id, from)
	if err != nil {
		return translate(err, fmt.Sprintf("reservation %d", id))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("%w: reservation %d is not %s", apperr.ErrInvalidState, id, from)
	}
	return nil
}

// ListExpiredPending returns up to limit PENDING reservations whose hold
// window ended at or before now, oldest first.
func (r *ReservationRepo) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations
	      WHERE status = 'PENDING' AND expires_at <= ?
	      ORDER BY expires_at, id
	      LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}
