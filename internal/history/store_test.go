package history

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

// setupMockDB creates a new mock database for testing.
func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *Store) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	return db, mock, NewStore(db)
}

func TestStore_Insert(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	sentAt := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO messages").
		WithArgs("m-1", "sess-1", "cust-1", "customer", "hello", "text", sentAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Insert(context.Background(), &Message{
		MessageID:   "m-1",
		SessionID:   "sess-1",
		SenderID:    "cust-1",
		SenderType:  "customer",
		Content:     "hello",
		MessageType: "text",
		SentAt:      sentAt,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStore_Insert_DuplicateIsNoOp(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	// ON CONFLICT DO NOTHING reports zero rows affected; that is success.
	mock.ExpectExec("INSERT INTO messages").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Insert(context.Background(), &Message{
		MessageID:  "m-1",
		SessionID:  "sess-1",
		SenderID:   "cust-1",
		SenderType: "customer",
		Content:    "hello",
		SentAt:     time.Now(),
	})
	if err != nil {
		t.Fatalf("unexpected error for duplicate insert: %v", err)
	}
}

func TestStore_Insert_DatabaseError(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec("INSERT INTO messages").
		WillReturnError(errors.New("connection reset"))

	err := store.Insert(context.Background(), &Message{
		MessageID:  "m-1",
		SessionID:  "sess-1",
		SenderID:   "cust-1",
		SenderType: "customer",
		Content:    "hello",
		SentAt:     time.Now(),
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestStore_MessagesSince(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	since := time.Date(2026, 8, 31, 11, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"message_id", "session_id", "sender_id", "sender_type", "content", "message_type", "sent_at",
	}).
		AddRow("m-1", "sess-1", "cust-1", "customer", "hello", "text", since.Add(5*time.Minute)).
		AddRow("m-2", "sess-1", "agent-1", "agent", "hi there", "text", since.Add(6*time.Minute))

	mock.ExpectQuery("SELECT message_id, session_id, sender_id, sender_type, content, message_type, sent_at").
		WithArgs("sess-1", since, 100).
		WillReturnRows(rows)

	msgs, err := store.MessagesSince(context.Background(), "sess-1", since, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].MessageID != "m-1" || msgs[0].SenderType != "customer" {
		t.Errorf("unexpected first message: %+v", msgs[0])
	}
	if msgs[1].MessageID != "m-2" || msgs[1].SenderType != "agent" {
		t.Errorf("unexpected second message: %+v", msgs[1])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStore_MessagesSince_Empty(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery("SELECT message_id").
		WillReturnRows(sqlmock.NewRows([]string{
			"message_id", "session_id", "sender_id", "sender_type", "content", "message_type", "sent_at",
		}))

	msgs, err := store.MessagesSince(context.Background(), "sess-1", time.Now(), 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no messages, got %d", len(msgs))
	}
}

func TestStore_CountForSession(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	count, err := store.CountForSession(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 42 {
		t.Errorf("expected count 42, got %d", count)
	}
}
