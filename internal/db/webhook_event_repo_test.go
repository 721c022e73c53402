package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pulseboard/internal/types"
)

// --- Shared mocks ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// --- WebhookEventRepo Tests ---

func TestWebhookEventRepo_CheckAndReserve_FreshEvent(t *testing.T) {
	db := new(mockDBTX)
	repo := NewWebhookEventRepo(db, nil)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{
			scanFn: func(dest ...any) error {
				p := dest[0].(*int)
				*p = 0
				return nil
			},
		})

	proceed, retryCount, err := repo.CheckAndReserve(context.Background(), "evt_1", "invoice.paid")
	require.NoError(t, err)
	assert.True(t, proceed)
	assert.Equal(t, 0, retryCount)
	db.AssertExpectations(t)
}

func TestWebhookEventRepo_CheckAndReserve_Duplicate(t *testing.T) {
	db := new(mockDBTX)
	repo := NewWebhookEventRepo(db, nil)

	// Row exists in a non-failed status: the conditional upsert returns no row.
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	proceed, retryCount, err := repo.CheckAndReserve(context.Background(), "evt_1", "invoice.paid")
	require.NoError(t, err)
	assert.False(t, proceed)
	assert.Equal(t, 0, retryCount)
}

func TestWebhookEventRepo_CheckAndReserve_RetryAfterFailure(t *testing.T) {
	db := new(mockDBTX)
	repo := NewWebhookEventRepo(db, nil)

	// Failed row flipped back to pending with retry_count bumped.
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{
			scanFn: func(dest ...any) error {
				p := dest[0].(*int)
				*p = 2
				return nil
			},
		})

	proceed, retryCount, err := repo.CheckAndReserve(context.Background(), "evt_1", "invoice.payment_failed")
	require.NoError(t, err)
	assert.True(t, proceed)
	assert.Equal(t, 2, retryCount)
}

func TestWebhookEventRepo_CheckAndReserve_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewWebhookEventRepo(db, nil)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: errors.New("connection refused")})

	proceed, _, err := repo.CheckAndReserve(context.Background(), "evt_1", "invoice.paid")
	require.Error(t, err)
	assert.False(t, proceed)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestWebhookEventRepo_RecordOutcome_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewWebhookEventRepo(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.RecordOutcome(context.Background(), "evt_1", types.EventStatusProcessed, "")
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestWebhookEventRepo_RecordOutcome_NoPendingRowIsNoOp(t *testing.T) {
	db := new(mockDBTX)
	repo := NewWebhookEventRepo(db, nil)

	// Outcome already recorded, or reservation never made.
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.RecordOutcome(context.Background(), "evt_1", types.EventStatusFailed, "handler crashed")
	require.NoError(t, err)
}

func TestWebhookEventRepo_RecordOutcome_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewWebhookEventRepo(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	err := repo.RecordOutcome(context.Background(), "evt_1", types.EventStatusProcessed, "")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestWebhookEventRepo_GetByEventID_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewWebhookEventRepo(db, nil)

	seen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	errMsg := "something broke"

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{
			scanFn: func(dest ...any) error {
				*dest[0].(*string) = "evt_1"
				*dest[1].(*string) = "invoice.paid"
				*dest[2].(*types.EventStatus) = types.EventStatusFailed
				*dest[3].(**string) = &errMsg
				*dest[4].(*int) = 1
				*dest[5].(*time.Time) = seen
				*dest[6].(*time.Time) = seen
				return nil
			},
		})

	rec, err := repo.GetByEventID(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.Equal(t, "evt_1", rec.EventID)
	assert.Equal(t, types.EventStatusFailed, rec.Status)
	assert.Equal(t, "something broke", rec.ErrorMessage)
	assert.Equal(t, 1, rec.RetryCount)
}

func TestWebhookEventRepo_GetByEventID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewWebhookEventRepo(db, nil)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetByEventID(context.Background(), "evt_unknown")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundWebhookEvent, appErr.Code)
}
