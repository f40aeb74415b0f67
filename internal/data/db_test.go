package data

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestRecordCaptureCompleteWritesLedgerRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewCaptureRepository(db)
	mock.ExpectExec("INSERT INTO capture_ledger").WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.RecordCaptureComplete(context.Background(), "sess-1", "kiosk-1", 0.92))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordCaptureErrorWritesLedgerRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewCaptureRepository(db)
	mock.ExpectExec("INSERT INTO capture_ledger").WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.RecordCaptureError(context.Background(), "sess-2", "kiosk-1", "camera_error"))
	require.NoError(t, mock.ExpectationsWereMet())
}
