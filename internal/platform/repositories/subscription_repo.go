package repositories

import (
	"database/sql"
	"time"

	"chatrelay/internal/platform/models"
)

type SubscriptionRepository struct {
	db *sql.DB
}

func NewSubscriptionRepository(db *sql.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) Upsert(sub *models.SubscriptionRecord) error {
	var creator sql.NullString
	if sub.CreatorID != "" {
		creator = sql.NullString{String: sub.CreatorID, Valid: true}
	}

	now := time.Now().Unix()
	_, err := r.db.Exec(`
		INSERT INTO subscriptions (id, resource, creator_id, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			resource = excluded.resource,
			creator_id = excluded.creator_id,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, sub.ID, sub.Resource, creator, sub.ExpiresAt, now, now)
	return err
}

func (r *SubscriptionRepository) GetByID(id string) (*models.SubscriptionRecord, error) {
	sub := &models.SubscriptionRecord{}
	var creator sql.NullString

	err := r.db.QueryRow(`
		SELECT id, resource, creator_id, expires_at, created_at, updated_at
		FROM subscriptions WHERE id = ?
	`, id).Scan(&sub.ID, &sub.Resource, &creator, &sub.ExpiresAt, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	if creator.Valid {
		sub.CreatorID = creator.String
	}
	return sub, nil
}

func (r *SubscriptionRepository) Delete(id string) error {
	_, err := r.db.Exec(`DELETE FROM subscriptions WHERE id = ?`, id)
	return err
}
