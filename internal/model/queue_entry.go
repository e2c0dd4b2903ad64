package model

import "time"

// QueueStatus is the admission state of a queue entry.
type QueueStatus string

const (
	QueueWaiting QueueStatus = "WAITING"
	QueueActive  QueueStatus = "ACTIVE"
	QueueExpired QueueStatus = "EXPIRED"
)

// QueueEntry is one caller's place in the waiting room.  Position is the
// insertion order handed out by the queue store; it is assigned once and
// never renumbered, so gaps appear as entries leave.
type QueueEntry struct {
	Token     string      `json:"token"`
	UserID    uint64      `json:"user_id"`
	Position  int64       `json:"position"`
	Status    QueueStatus `json:"status"`
	EnteredAt time.Time   `json:"entered_at"`
	ExpiresAt *time.Time  `json:"expires_at"` // nil while WAITING
}

// ActiveAt reports whether the entry grants admission at now.
func (e QueueEntry) ActiveAt(now time.Time) bool {
	return e.Status == QueueActive && e.ExpiresAt != nil && now.Before(*e.ExpiresAt)
}
