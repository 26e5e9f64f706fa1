package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"chatrelay/internal/engine/graph"
	"chatrelay/internal/platform/models"
	"chatrelay/internal/platform/repositories"
)

// A credential counts as expired this long before its nominal expiry, to
// absorb clock skew between us and the identity provider.
const expirySkew = 5 * time.Minute

// ErrNoCredential means no credential tier could produce a valid token for
// the principal. For delegated credentials this is permanent until the user
// signs in again.
var ErrNoCredential = errors.New("auth: no valid credential")

// Store owns access and refresh tokens per principal. Delegated credentials
// live in the credentials table with an in-memory cache in front; the single
// application credential is held in memory only, since it can be re-acquired
// wholesale at any time.
type Store struct {
	repo   *repositories.CredentialRepository
	tokens *graph.TokenClient

	mu    sync.Mutex
	cache map[string]*models.Credential

	appMu        sync.Mutex
	appToken     string
	appExpiresAt time.Time
}

func NewStore(repo *repositories.CredentialRepository, tokens *graph.TokenClient) *Store {
	return &Store{
		repo:   repo,
		tokens: tokens,
		cache:  make(map[string]*models.Credential),
	}
}

// Resolve picks the credential source for a notification: the creator's
// delegated credential when one is on file, otherwise the application
// credential.
func (s *Store) Resolve(creatorID string) graph.CredentialSource {
	if creatorID != "" {
		if cred, err := s.lookup(creatorID); err == nil && cred != nil {
			return &delegatedSource{store: s, principalID: creatorID}
		}
	}
	return &appSource{store: s}
}

// AuthorizeURL starts the delegated sign-in flow.
func (s *Store) AuthorizeURL(state string) string {
	return s.tokens.AuthorizeURL(state)
}

// CompleteLogin exchanges an authorization code and persists the resulting
// delegated credential. The principal identity comes from the id_token
// claims; the token arrived over TLS from the provider we just called, so an
// unverified parse is enough here.
func (s *Store) CompleteLogin(ctx context.Context, code string) (*models.Credential, error) {
	token, err := s.tokens.AuthorizationCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("code exchange: %w", err)
	}

	principalID, principalLabel, err := principalFromIDToken(token.IDToken)
	if err != nil {
		return nil, err
	}

	cred := &models.Credential{
		PrincipalID:    principalID,
		PrincipalLabel: principalLabel,
		AccessToken:    token.AccessToken,
		RefreshToken:   token.RefreshToken,
		ExpiresAt:      time.Now().Add(time.Duration(token.ExpiresIn) * time.Second).Unix(),
	}
	if err := s.repo.Upsert(cred); err != nil {
		return nil, fmt.Errorf("persist credential: %w", err)
	}

	s.mu.Lock()
	s.cache[principalID] = cred
	s.mu.Unlock()

	log.Info().Str("principal", principalLabel).Msg("delegated credential stored")
	return cred, nil
}

// Logout removes a principal's credential.
func (s *Store) Logout(principalID string) error {
	s.mu.Lock()
	delete(s.cache, principalID)
	s.mu.Unlock()

	if err := s.repo.Delete(principalID); err != nil {
		return err
	}
	log.Info().Str("principal_id", principalID).Msg("credential removed")
	return nil
}

func (s *Store) lookup(principalID string) (*models.Credential, error) {
	s.mu.Lock()
	cred, ok := s.cache[principalID]
	s.mu.Unlock()
	if ok {
		return cred, nil
	}

	cred, err := s.repo.Get(principalID)
	if err != nil {
		return nil, err
	}
	if cred != nil {
		s.mu.Lock()
		s.cache[principalID] = cred
		s.mu.Unlock()
	}
	return cred, nil
}

func expired(expiresAt int64) bool {
	return time.Now().After(time.Unix(expiresAt, 0).Add(-expirySkew))
}

// delegatedToken returns a valid access token for the principal, refreshing
// when expired. A failed refresh yields ErrNoCredential rather than an error
// the caller might retry: the refresh token is gone until re-authentication.
func (s *Store) delegatedToken(ctx context.Context, principalID string, force bool) (string, error) {
	cred, err := s.lookup(principalID)
	if err != nil {
		return "", err
	}
	if cred == nil {
		return "", ErrNoCredential
	}

	if !force && !expired(cred.ExpiresAt) {
		return cred.AccessToken, nil
	}

	if cred.RefreshToken == "" {
		return "", ErrNoCredential
	}

	token, err := s.tokens.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		log.Warn().Err(err).Str("principal_id", principalID).Msg("token refresh failed")
		return "", ErrNoCredential
	}

	// Access token and expiry are replaced; refresh token and identity stay.
	cred.AccessToken = token.AccessToken
	cred.ExpiresAt = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second).Unix()

	if err := s.repo.Upsert(cred); err != nil {
		return "", fmt.Errorf("persist refreshed credential: %w", err)
	}
	s.mu.Lock()
	s.cache[principalID] = cred
	s.mu.Unlock()

	return cred.AccessToken, nil
}

// applicationToken returns the service-wide token, re-acquiring it via the
// client-credentials grant when expired. There is no refresh token for this
// tier.
func (s *Store) applicationToken(ctx context.Context, force bool) (string, error) {
	s.appMu.Lock()
	defer s.appMu.Unlock()

	if !force && s.appToken != "" && time.Now().Before(s.appExpiresAt.Add(-expirySkew)) {
		return s.appToken, nil
	}

	token, err := s.tokens.ClientCredentials(ctx)
	if err != nil {
		return "", fmt.Errorf("acquire application token: %w", err)
	}

	s.appToken = token.AccessToken
	s.appExpiresAt = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	return s.appToken, nil
}

// AppSource returns the application-credential source directly, for
// subscription management calls that never use delegated tokens.
func (s *Store) AppSource() graph.CredentialSource {
	return &appSource{store: s}
}

type delegatedSource struct {
	store       *Store
	principalID string
}

func (d *delegatedSource) Token(ctx context.Context) (string, error) {
	token, err := d.store.delegatedToken(ctx, d.principalID, false)
	if errors.Is(err, ErrNoCredential) {
		// Delegated tier went away; fall back to the application tier.
		return d.store.applicationToken(ctx, false)
	}
	return token, err
}

func (d *delegatedSource) ForceRefresh(ctx context.Context) (string, error) {
	token, err := d.store.delegatedToken(ctx, d.principalID, true)
	if errors.Is(err, ErrNoCredential) {
		return d.store.applicationToken(ctx, true)
	}
	return token, err
}

type appSource struct {
	store *Store
}

func (a *appSource) Token(ctx context.Context) (string, error) {
	return a.store.applicationToken(ctx, false)
}

func (a *appSource) ForceRefresh(ctx context.Context) (string, error) {
	return a.store.applicationToken(ctx, true)
}

func principalFromIDToken(idToken string) (id, label string, err error) {
	if idToken == "" {
		return "", "", errors.New("token response missing id_token")
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return "", "", fmt.Errorf("parse id_token: %w", err)
	}

	if oid, ok := claims["oid"].(string); ok && oid != "" {
		id = oid
	} else if sub, ok := claims["sub"].(string); ok {
		id = sub
	}
	if id == "" {
		return "", "", errors.New("id_token missing principal identifier")
	}

	if upn, ok := claims["preferred_username"].(string); ok && upn != "" {
		label = upn
	} else if email, ok := claims["email"].(string); ok {
		label = email
	} else {
		label = id
	}
	return id, label, nil
}
