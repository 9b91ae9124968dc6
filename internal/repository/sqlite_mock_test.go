package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/salescall/internal/domain"
)

func newMockStore(t *testing.T) (*SQLiteStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &SQLiteStore{db: db}, mock
}

func TestSaveCallRollsBackOnFailure(t *testing.T) {
	store, mock := newMockStore(t)
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM calls WHERE session_id = ?`)).
		WithArgs("sess_1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO calls`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO call_messages`)).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err := store.SaveCall(context.Background(), &domain.CallRecord{
		SessionID: "sess_1",
		StartedAt: started,
		EndedAt:   started.Add(time.Minute),
		EndReason: domain.EndReasonIdle,
		Messages:  []domain.Message{{Role: domain.RoleSystem, Content: "You are a CFO"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveCallBeginFailure(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin().WillReturnError(errors.New("database is locked"))

	err := store.SaveCall(context.Background(), &domain.CallRecord{SessionID: "sess_1"})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCallMissingRow(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT session_id, persona_id, started_at, ended_at, end_reason, feedback, metrics FROM calls WHERE session_id = ?`)).
		WithArgs("sess_404").
		WillReturnRows(sqlmock.NewRows([]string{"session_id", "persona_id", "started_at", "ended_at", "end_reason", "feedback", "metrics"}))

	record, err := store.GetCall(context.Background(), "sess_404")
	require.NoError(t, err)
	assert.Nil(t, record)
	assert.NoError(t, mock.ExpectationsWereMet())
}
