package repositories

import (
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"chatrelay/internal/platform/models"
)

// CredentialRepository persists OAuth credentials with the token material
// sealed under an AEAD key, so a copied database file does not leak tokens.
type CredentialRepository struct {
	db   *sql.DB
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

func NewCredentialRepository(db *sql.DB, sealKey []byte) (*CredentialRepository, error) {
	if len(sealKey) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("token seal key must be %d bytes, got %d", chacha20poly1305.KeySize, len(sealKey))
	}
	aead, err := chacha20poly1305.New(sealKey)
	if err != nil {
		return nil, err
	}
	return &CredentialRepository{db: db, aead: aead}, nil
}

func (r *CredentialRepository) Upsert(cred *models.Credential) error {
	accessSealed, err := r.seal(cred.AccessToken)
	if err != nil {
		return err
	}

	var refreshSealed []byte
	if cred.RefreshToken != "" {
		refreshSealed, err = r.seal(cred.RefreshToken)
		if err != nil {
			return err
		}
	}

	now := time.Now().Unix()
	_, err = r.db.Exec(`
		INSERT INTO credentials (principal_id, principal_label, access_token, refresh_token, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(principal_id) DO UPDATE SET
			principal_label = excluded.principal_label,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, cred.PrincipalID, cred.PrincipalLabel, accessSealed, refreshSealed, cred.ExpiresAt, now, now)
	return err
}

func (r *CredentialRepository) Get(principalID string) (*models.Credential, error) {
	cred := &models.Credential{}
	var accessSealed []byte
	var refreshSealed []byte

	err := r.db.QueryRow(`
		SELECT principal_id, principal_label, access_token, refresh_token, expires_at, created_at, updated_at
		FROM credentials WHERE principal_id = ?
	`, principalID).Scan(&cred.PrincipalID, &cred.PrincipalLabel, &accessSealed, &refreshSealed, &cred.ExpiresAt, &cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	cred.AccessToken, err = r.open(accessSealed)
	if err != nil {
		return nil, fmt.Errorf("unseal access token: %w", err)
	}
	if len(refreshSealed) > 0 {
		cred.RefreshToken, err = r.open(refreshSealed)
		if err != nil {
			return nil, fmt.Errorf("unseal refresh token: %w", err)
		}
	}
	return cred, nil
}

func (r *CredentialRepository) Delete(principalID string) error {
	_, err := r.db.Exec(`DELETE FROM credentials WHERE principal_id = ?`, principalID)
	return err
}

func (r *CredentialRepository) seal(plaintext string) ([]byte, error) {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return r.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

func (r *CredentialRepository) open(sealed []byte) (string, error) {
	if len(sealed) < chacha20poly1305.NonceSize {
		return "", errors.New("sealed token too short")
	}
	nonce, ciphertext := sealed[:chacha20poly1305.NonceSize], sealed[chacha20poly1305.NonceSize:]
	plaintext, err := r.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
