package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ticket-admission/internal/apperr"
	"github.com/iliyamo/ticket-admission/internal/model"
)

func TestFindByTokenParsesMetadata(t *testing.T) {
	db, mock := redismock.NewClientMock()
	q := New(db, Options{KeyPrefix: "tq"})

	mock.ExpectHGetAll("tq:entry:abc").SetVal(map[string]string{
		"token":      "abc",
		"user_id":    "42",
		"status":     "ACTIVE",
		"position":   "17",
		"entered_at": "1777626000000",
		"expires_at": "1777627800000",
	})

	e, err := q.FindByToken(context.Background(), "abc")
	require.NoError(t, err)
	assert.EqualValues(t, 42, e.UserID)
	assert.EqualValues(t, 17, e.Position)
	assert.Equal(t, model.QueueActive, e.Status)
	require.NotNil(t, e.ExpiresAt)
	assert.Equal(t, 30*time.Minute, e.ExpiresAt.Sub(e.EnteredAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByTokenRejectsCorruptMetadata(t *testing.T) {
	db, mock := redismock.NewClientMock()
	q := New(db, Options{KeyPrefix: "tq"})

	mock.ExpectHGetAll("tq:entry:bad").SetVal(map[string]string{"user_id": "x", "status": "WAITING"})
	_, err := q.FindByToken(context.Background(), "bad")
	assert.ErrorContains(t, err, "bad user_id")
	assert.NotErrorIs(t, err, apperr.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPositionOfUsesFilteredCount(t *testing.T) {
	db, mock := redismock.NewClientMock()
	q := New(db, Options{KeyPrefix: "tq"})

	mock.ExpectHGetAll("tq:entry:t15").SetVal(map[string]string{
		"user_id": "1", "status": "WAITING", "position": "15", "entered_at": "0", "expires_at": "",
	})
	mock.ExpectZCount("tq:waiting", "-inf", "(15").SetVal(3)

	ahead, err := q.PositionOf(context.Background(), "t15")
	require.NoError(t, err)
	assert.EqualValues(t, 3, ahead)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsPropagatesErrors(t *testing.T) {
	db, mock := redismock.NewClientMock()
	q := New(db, Options{KeyPrefix: "tq"})

	mock.ExpectZCard("tq:waiting").SetVal(12)
	mock.ExpectZCard("tq:active").SetErr(errors.New("connection refused"))

	_, err := q.Stats(context.Background())
	assert.ErrorContains(t, err, "count active")
	assert.NoError(t, mock.ExpectationsWereMet())
}
