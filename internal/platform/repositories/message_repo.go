package repositories

import (
	"database/sql"
	"time"

	"chatrelay/internal/platform/models"
)

type MessageRepository struct {
	db *sql.DB
}

func NewMessageRepository(db *sql.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Save inserts a normalized message, keyed by the platform's message ID.
// A duplicate is a no-op that returns the existing row's ID, so the worker
// can replay a notification without creating a second record.
func (r *MessageRepository) Save(messageID, normalizedJSON, rawJSON string) (int64, error) {
	result, err := r.db.Exec(`
		INSERT INTO messages (message_id, normalized_json, raw_json, ingested_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(message_id) DO NOTHING
	`, messageID, normalizedJSON, rawJSON, time.Now().Unix())
	if err != nil {
		return 0, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected > 0 {
		return result.LastInsertId()
	}

	var id int64
	err = r.db.QueryRow(`SELECT id FROM messages WHERE message_id = ?`, messageID).Scan(&id)
	return id, err
}

func (r *MessageRepository) GetByMessageID(messageID string) (*models.Message, error) {
	msg := &models.Message{}
	err := r.db.QueryRow(`
		SELECT id, message_id, normalized_json, raw_json, ingested_at
		FROM messages WHERE message_id = ?
	`, messageID).Scan(&msg.ID, &msg.MessageID, &msg.NormalizedJSON, &msg.RawJSON, &msg.IngestedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

func (r *MessageRepository) ListRecent(limit int) ([]*models.Message, error) {
	rows, err := r.db.Query(`
		SELECT id, message_id, normalized_json, raw_json, ingested_at
		FROM messages ORDER BY ingested_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		if err := rows.Scan(&msg.ID, &msg.MessageID, &msg.NormalizedJSON, &msg.RawJSON, &msg.IngestedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
