// Package session owns the authenticated session: the bearer token and the
// authenticated-user profile. It is the single writer of the token; every
// other component only reads it through the TokenSource interface.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"tailtrail/internal/media"
	"tailtrail/internal/models"
	"tailtrail/internal/observability"
)

// AuthAPI is the slice of the API client the session store needs.
type AuthAPI interface {
	Login(ctx context.Context, email, password string) (string, error)
	Signup(ctx context.Context, email, password, phone string) error
	Profile(ctx context.Context) (*models.User, error)
	UpdateProfile(ctx context.Context, in models.UpdateProfileInput, avatar *media.Upload) (*models.User, error)
	DeleteAccount(ctx context.Context) error
}

// CredentialStore persists the token and cached profile across restarts.
type CredentialStore interface {
	SaveCredential(token string, user *models.User) error
	LoadCredential() (string, *models.User, error)
	ClearCredential() error
}

// Store holds the current session. Safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	token string
	user  *models.User

	api   AuthAPI
	creds CredentialStore
	log   *slog.Logger
}

// NewStore creates a session store and rehydrates any persisted credential so
// a restart resumes the previous session. The API client is attached
// separately because it in turn reads tokens from this store.
func NewStore(creds CredentialStore, log *slog.Logger) *Store {
	if log == nil {
		log = observability.GlobalLogger.Logger
	}
	s := &Store{creds: creds, log: log}
	if creds != nil {
		token, user, err := creds.LoadCredential()
		if err != nil {
			log.Warn("failed to load persisted session", slog.String("error", err.Error()))
		} else {
			s.token = token
			s.user = user
		}
	}
	return s
}

// AttachAPI wires the API client in after construction.
func (s *Store) AttachAPI(api AuthAPI) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.api = api
}

// Token returns the current bearer token, empty when logged out.
func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// LoggedIn reports whether a token is held.
func (s *Store) LoggedIn() bool {
	return s.Token() != ""
}

// User returns a copy of the current profile, or nil before the first
// successful profile fetch.
func (s *Store) User() *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// UserID returns the current user's id: from the fetched profile when
// available, otherwise from the token's user_id claim. The claim is parsed
// without verification: the client never holds the signing key; the backend
// remains the authority.
func (s *Store) UserID() string {
	s.mu.Lock()
	user, token := s.user, s.token
	s.mu.Unlock()
	if user != nil {
		return user.ID
	}
	return userIDFromToken(token)
}

func userIDFromToken(token string) string {
	if token == "" {
		return ""
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}
	if id, ok := claims["user_id"].(string); ok {
		return id
	}
	return ""
}

// Login posts credentials, stores the returned token, persists it, and then
// fetches the profile. A failed profile fetch does not fail the login: the
// token is kept and the profile stays absent until the next fetch succeeds.
func (s *Store) Login(ctx context.Context, email, password string) error {
	api := s.authAPI()
	if api == nil {
		return errors.New("session: no API attached")
	}
	token, err := api.Login(ctx, email, password)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.token = token
	s.user = nil
	s.mu.Unlock()
	s.persist()

	if err := s.FetchProfile(ctx); err != nil {
		s.log.Warn("profile fetch after login failed", slog.String("error", err.Error()))
	}
	return nil
}

// Signup registers the account and then logs in with the same credentials,
// the flow the original client used.
func (s *Store) Signup(ctx context.Context, email, password, phone string) error {
	api := s.authAPI()
	if api == nil {
		return errors.New("session: no API attached")
	}
	if err := api.Signup(ctx, email, password, phone); err != nil {
		return err
	}
	return s.Login(ctx, email, password)
}

// FetchProfile replaces the profile wholesale from the server. On failure the
// prior profile is left untouched.
func (s *Store) FetchProfile(ctx context.Context) error {
	api := s.authAPI()
	if api == nil {
		return errors.New("session: no API attached")
	}
	if !s.LoggedIn() {
		return models.NewUnauthorizedError("no active session")
	}
	user, err := api.Profile(ctx)
	if err != nil {
		s.log.Warn("profile fetch failed", slog.String("error", err.Error()))
		return err
	}
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
	s.persist()
	return nil
}

// UpdateProfile sends a partial profile update; on success the profile is
// replaced from the response body, on failure nothing changes.
func (s *Store) UpdateProfile(ctx context.Context, in models.UpdateProfileInput, avatar *media.Upload) error {
	api := s.authAPI()
	if api == nil {
		return errors.New("session: no API attached")
	}
	user, err := api.UpdateProfile(ctx, in, avatar)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
	s.persist()
	return nil
}

// DeleteAccount deletes the account server-side and, on success, logs out.
func (s *Store) DeleteAccount(ctx context.Context) error {
	api := s.authAPI()
	if api == nil {
		return errors.New("session: no API attached")
	}
	if err := api.DeleteAccount(ctx); err != nil {
		return err
	}
	s.Logout()
	return nil
}

// Logout clears token and profile synchronously and unconditionally,
// including the persisted credential. Idempotent.
func (s *Store) Logout() {
	s.mu.Lock()
	s.token = ""
	s.user = nil
	s.mu.Unlock()
	if s.creds != nil {
		if err := s.creds.ClearCredential(); err != nil {
			s.log.Warn("failed to clear persisted session", slog.String("error", err.Error()))
		}
	}
}

// ExpireSession is the 401-with-expiry-marker cascade entry point. Concurrent
// requests can all observe the same expired token; the session is swapped out
// under one lock so exactly one of them logs and clears the credential.
func (s *Store) ExpireSession() {
	s.mu.Lock()
	hadSession := s.token != ""
	s.token = ""
	s.user = nil
	s.mu.Unlock()
	if !hadSession {
		return
	}
	s.log.Info("session expired, logging out")
	if s.creds != nil {
		if err := s.creds.ClearCredential(); err != nil {
			s.log.Warn("failed to clear persisted session", slog.String("error", err.Error()))
		}
	}
}

func (s *Store) authAPI() AuthAPI {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.api
}

func (s *Store) persist() {
	if s.creds == nil {
		return
	}
	s.mu.Lock()
	token, user := s.token, s.user
	s.mu.Unlock()
	if token == "" {
		return
	}
	if err := s.creds.SaveCredential(token, user); err != nil {
		s.log.Warn("failed to persist session", slog.String("error", err.Error()))
	}
}
