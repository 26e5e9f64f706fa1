package repositories

import (
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"

	"chatrelay/internal/platform/models"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	query := `
	CREATE TABLE notifications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		subscription_id TEXT NOT NULL,
		resource TEXT NOT NULL,
		creator_id TEXT,
		payload_json TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE TABLE messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT UNIQUE NOT NULL,
		normalized_json TEXT NOT NULL,
		raw_json TEXT NOT NULL,
		ingested_at INTEGER NOT NULL
	);
	CREATE TABLE credentials (
		principal_id TEXT PRIMARY KEY,
		principal_label TEXT NOT NULL,
		access_token BLOB NOT NULL,
		refresh_token BLOB,
		expires_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE subscriptions (
		id TEXT PRIMARY KEY,
		resource TEXT NOT NULL,
		creator_id TEXT,
		expires_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := db.Exec(query); err != nil {
		t.Fatalf("Failed to create tables: %v", err)
	}
	return db
}

func TestNotificationRepository_EnqueueAndFetch(t *testing.T) {
	db := setupTestDB(t)
	repo := NewNotificationRepository(db, 5)

	id, err := repo.Enqueue("sub-1", "/teams/t1/channels/c1/messages/m1", "user-1", `{"resource":"r"}`)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if id == 0 {
		t.Error("Expected non-zero notification ID")
	}

	pending, err := repo.FetchPending(10)
	if err != nil {
		t.Fatalf("FetchPending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("Expected 1 pending notification, got %d", len(pending))
	}

	n := pending[0]
	if n.Status != models.StatusPending {
		t.Errorf("Expected status pending, got %s", n.Status)
	}
	if n.Attempts != 0 {
		t.Errorf("Expected 0 attempts, got %d", n.Attempts)
	}
	if n.CreatorID != "user-1" {
		t.Errorf("Expected creator user-1, got %s", n.CreatorID)
	}
}

func TestNotificationRepository_FetchPendingOrder(t *testing.T) {
	db := setupTestDB(t)
	repo := NewNotificationRepository(db, 5)

	first, _ := repo.Enqueue("sub-1", "/r1", "", "{}")
	second, _ := repo.Enqueue("sub-1", "/r2", "", "{}")

	pending, err := repo.FetchPending(10)
	if err != nil {
		t.Fatalf("FetchPending failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("Expected 2 pending, got %d", len(pending))
	}
	if pending[0].ID != first || pending[1].ID != second {
		t.Errorf("Expected oldest-first order [%d %d], got [%d %d]", first, second, pending[0].ID, pending[1].ID)
	}
}

func TestNotificationRepository_MarkProcessingClaims(t *testing.T) {
	db := setupTestDB(t)
	repo := NewNotificationRepository(db, 5)

	id, _ := repo.Enqueue("sub-1", "/r", "", "{}")

	claimed, err := repo.MarkProcessing(id)
	if err != nil {
		t.Fatalf("MarkProcessing failed: %v", err)
	}
	if !claimed {
		t.Error("Expected first claim to succeed")
	}

	// A second claim on the same row must not succeed.
	claimed, err = repo.MarkProcessing(id)
	if err != nil {
		t.Fatalf("MarkProcessing failed: %v", err)
	}
	if claimed {
		t.Error("Expected second claim to fail")
	}

	n, _ := repo.GetByID(id)
	if n.Status != models.StatusProcessing {
		t.Errorf("Expected status processing, got %s", n.Status)
	}
	if n.Attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", n.Attempts)
	}
}

func TestNotificationRepository_FailureCycleStabilizesAtFailed(t *testing.T) {
	db := setupTestDB(t)
	repo := NewNotificationRepository(db, 5)

	id, _ := repo.Enqueue("sub-1", "/r", "", "{}")

	// Attempts 1 through 4 return the entry to pending.
	for attempt := 1; attempt <= 4; attempt++ {
		claimed, err := repo.MarkProcessing(id)
		if err != nil || !claimed {
			t.Fatalf("attempt %d: MarkProcessing claimed=%v err=%v", attempt, claimed, err)
		}
		if err := repo.MarkFailed(id, "fetch failed"); err != nil {
			t.Fatalf("attempt %d: MarkFailed failed: %v", attempt, err)
		}

		n, _ := repo.GetByID(id)
		if n.Status != models.StatusPending {
			t.Fatalf("attempt %d: expected pending, got %s", attempt, n.Status)
		}
		if n.Attempts != attempt {
			t.Fatalf("attempt %d: expected %d attempts, got %d", attempt, attempt, n.Attempts)
		}
	}

	// The fifth failed attempt parks the entry.
	if claimed, _ := repo.MarkProcessing(id); !claimed {
		t.Fatal("Expected fifth claim to succeed")
	}
	if err := repo.MarkFailed(id, "fetch failed"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	n, _ := repo.GetByID(id)
	if n.Status != models.StatusFailed {
		t.Errorf("Expected failed after 5 attempts, got %s", n.Status)
	}
	if n.ErrorMessage != "fetch failed" {
		t.Errorf("Expected error message recorded, got %q", n.ErrorMessage)
	}

	pending, _ := repo.FetchPending(10)
	if len(pending) != 0 {
		t.Errorf("Expected no pending entries after parking, got %d", len(pending))
	}
}

func TestNotificationRepository_MarkDone(t *testing.T) {
	db := setupTestDB(t)
	repo := NewNotificationRepository(db, 5)

	id, _ := repo.Enqueue("sub-1", "/r", "", "{}")
	repo.MarkProcessing(id)
	if err := repo.MarkDone(id); err != nil {
		t.Fatalf("MarkDone failed: %v", err)
	}

	n, _ := repo.GetByID(id)
	if n.Status != models.StatusDone {
		t.Errorf("Expected status done, got %s", n.Status)
	}
}

func TestNotificationRepository_FetchPendingQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM notifications WHERE status = ?").
		WillReturnError(sql.ErrConnDone)

	repo := NewNotificationRepository(db, 5)
	if _, err := repo.FetchPending(10); err == nil {
		t.Error("Expected error from FetchPending")
	}
}
