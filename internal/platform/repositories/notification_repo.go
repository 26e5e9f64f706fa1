package repositories

import (
	"database/sql"
	"time"

	"chatrelay/internal/platform/models"
)

type NotificationRepository struct {
	db          *sql.DB
	maxAttempts int
}

func NewNotificationRepository(db *sql.DB, maxAttempts int) *NotificationRepository {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &NotificationRepository{db: db, maxAttempts: maxAttempts}
}

func (r *NotificationRepository) Enqueue(subscriptionID, resource, creatorID, payloadJSON string) (int64, error) {
	var creator sql.NullString
	if creatorID != "" {
		creator = sql.NullString{String: creatorID, Valid: true}
	}

	result, err := r.db.Exec(`
		INSERT INTO notifications (subscription_id, resource, creator_id, payload_json, status, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
	`, subscriptionID, resource, creator, payloadJSON, models.StatusPending, time.Now().Unix())
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (r *NotificationRepository) FetchPending(limit int) ([]*models.Notification, error) {
	rows, err := r.db.Query(`
		SELECT id, subscription_id, resource, creator_id, payload_json, status, attempts, error_message, created_at
		FROM notifications WHERE status = ? ORDER BY id ASC LIMIT ?
	`, models.StatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func (r *NotificationRepository) GetByID(id int64) (*models.Notification, error) {
	row := r.db.QueryRow(`
		SELECT id, subscription_id, resource, creator_id, payload_json, status, attempts, error_message, created_at
		FROM notifications WHERE id = ?
	`, id)

	n, err := scanNotification(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return n, nil
}

// MarkProcessing claims a pending entry and counts the attempt. The status
// guard keeps a second worker from claiming the same row.
func (r *NotificationRepository) MarkProcessing(id int64) (bool, error) {
	result, err := r.db.Exec(`
		UPDATE notifications SET status = ?, attempts = attempts + 1
		WHERE id = ? AND status = ?
	`, models.StatusProcessing, id, models.StatusPending)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *NotificationRepository) MarkDone(id int64) error {
	_, err := r.db.Exec(`UPDATE notifications SET status = ? WHERE id = ?`, models.StatusDone, id)
	return err
}

// MarkFailed parks the entry once the attempt budget is spent, otherwise
// returns it to pending for another pass. Single statement so the status and
// error text move together.
func (r *NotificationRepository) MarkFailed(id int64, errorMessage string) error {
	_, err := r.db.Exec(`
		UPDATE notifications
		SET status = CASE WHEN attempts >= ? THEN ? ELSE ? END, error_message = ?
		WHERE id = ?
	`, r.maxAttempts, models.StatusFailed, models.StatusPending, errorMessage, id)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNotification(row rowScanner) (*models.Notification, error) {
	var n models.Notification
	var creatorID sql.NullString
	var errorMessage sql.NullString

	err := row.Scan(&n.ID, &n.SubscriptionID, &n.Resource, &creatorID, &n.PayloadJSON, &n.Status, &n.Attempts, &errorMessage, &n.CreatedAt)
	if err != nil {
		return nil, err
	}

	if creatorID.Valid {
		n.CreatorID = creatorID.String
	}
	if errorMessage.Valid {
		n.ErrorMessage = errorMessage.String
	}
	return &n, nil
}
