package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SeatStatus is the sale state of a single seat.
type SeatStatus string

const (
	SeatAvailable SeatStatus = "AVAILABLE"
	SeatHeld      SeatStatus = "HELD"
	SeatSold      SeatStatus = "SOLD"
)

// CanTransition reports whether a seat may move from s to next.  The only
// legal edges are AVAILABLE->HELD, HELD->SOLD and HELD->AVAILABLE.
func (s SeatStatus) CanTransition(next SeatStatus) bool {
	switch s {
	case SeatAvailable:
		return next == SeatHeld
	case SeatHeld:
		return next == SeatSold || next == SeatAvailable
	}
	return false
}

// Seat describes one sellable seat of a session (an event on a given
// date).  Seats are created during catalog setup and afterwards mutated
// only through the inventory's guarded operations.
//
// Fields:
//
//	ID         – primary key identifier.
//	SessionID  – session the seat belongs to.
//	SeatNumber – label unique within the session (e.g. "A-12").
//	Status     – AVAILABLE, HELD or SOLD.
//	Price      – current list price.
//	CreatedAt  – creation timestamp.
//	UpdatedAt  – last update timestamp.
type Seat struct {
	ID         uint64          `json:"id"`          // seats.id
	SessionID  uint64          `json:"session_id"`  // seats.session_id
	SeatNumber string          `json:"seat_number"` // seats.seat_number
	Status     SeatStatus      `json:"status"`      // seats.status
	Price      decimal.Decimal `json:"price"`       // seats.price
	CreatedAt  time.Time       `json:"created_at"`  // seats.created_at
	UpdatedAt  time.Time       `json:"updated_at"`  // seats.updated_at
}
