package circuitbreaker

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap/zaptest"
)

func TestDatabaseWrapper_NormalOperations(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	defer db.Close()

	logger := zaptest.NewLogger(t)
	wrapper := NewDatabaseWrapper(db, logger)
	ctx := context.Background()

	// Test Ping
	mock.ExpectPing()
	err = wrapper.PingContext(ctx)
	if err != nil {
		t.Errorf("PingContext failed: %v", err)
	}

	// Test Query
	rows := sqlmock.NewRows([]string{"chunk_id", "chunk_text"}).
		AddRow("chunk-1", "governance policy overview").
		AddRow("chunk-2", "rollout checklist")
	mock.ExpectQuery("SELECT (.+) FROM document_chunks").WillReturnRows(rows)

	queryRows, err := wrapper.QueryContext(ctx, "SELECT chunk_id, chunk_text FROM document_chunks")
	if err != nil {
		t.Errorf("QueryContext failed: %v", err)
	}
	defer queryRows.Close()

	// Test Exec
	mock.ExpectExec("INSERT INTO search_history").
		WithArgs("governance").
		WillReturnResult(sqlmock.NewResult(1, 1))

	result, err := wrapper.ExecContext(ctx, "INSERT INTO search_history (query) VALUES ($1)", "governance")
	if err != nil {
		t.Errorf("ExecContext failed: %v", err)
	}

	affected, _ := result.RowsAffected()
	if affected != 1 {
		t.Errorf("Expected 1 affected row, got %d", affected)
	}

	// Verify all expectations were met
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestDatabaseWrapper_CircuitBreakerTriggering(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	defer db.Close()

	logger := zaptest.NewLogger(t)
	wrapper := NewDatabaseWrapper(db, logger)
	ctx := context.Background()

	// Set up expected pings (circuit breaker opens after 5 failures)
	for i := 0; i < 5; i++ {
		mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	}

	// Simulate database failures
	for i := 0; i < 5; i++ {
		err := wrapper.PingContext(ctx)
		if err == nil {
			t.Error("Expected ping to fail")
		}
	}

	// Circuit breaker should be open
	if !wrapper.IsCircuitBreakerOpen() {
		t.Error("Expected circuit breaker to be open after repeated failures")
	}

	// Subsequent calls should fail fast
	err = wrapper.PingContext(ctx)
	if err != ErrCircuitBreakerOpen {
		t.Errorf("Expected circuit breaker open error, got %v", err)
	}

	// Queries should also be rejected while open
	_, err = wrapper.QueryContext(ctx, "SELECT chunk_id FROM document_chunks")
	if err != ErrCircuitBreakerOpen {
		t.Errorf("Expected circuit breaker open error from query, got %v", err)
	}

	// Verify all expectations were met
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}
