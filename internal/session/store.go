// Package session owns the authentication state of one client device and the
// protocol for establishing, refreshing and tearing it down against the
// Identity Service.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mwakai/touch-grass/internal/authapi"
	"github.com/mwakai/touch-grass/internal/domain"
)

// IdentityService is the subset of the Identity Service the Store needs.
type IdentityService interface {
	Login(ctx context.Context, email, password string) (json.RawMessage, error)
	Signup(ctx context.Context, req authapi.SignupRequest) (json.RawMessage, error)
	CurrentUser(ctx context.Context, token string) (json.RawMessage, error)
	Logout(ctx context.Context, token string) error
}

// Persistence is a text key-value store holding the credential record.
type Persistence interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Deps are the collaborators of a Store.
type Deps struct {
	Identity    IdentityService
	Persistence Persistence
	Notifier    Notifier
	Recorder    Recorder
	Logger      *slog.Logger
	Now         func() time.Time
}

// Store is the Session of a single client device.
//
// Auth actions are serialized by actionMu; reads take mu only, so a Snapshot
// never waits on an in-flight Identity Service call.
type Store struct {
	deviceID string
	idp      IdentityService
	kv       Persistence
	notifier Notifier
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time

	actionMu sync.Mutex

	mu         sync.RWMutex
	user       *domain.User
	token      string
	loading    bool
	lastErr    string
	lastActive time.Time
}

// New constructs an empty Store. Call Restore once before use.
func New(deviceID string, deps Deps) *Store {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		deviceID:   deviceID,
		idp:        deps.Identity,
		kv:         deps.Persistence,
		notifier:   deps.Notifier,
		recorder:   deps.Recorder,
		logger:     logger.With("device_id", deviceID),
		now:        now,
		lastActive: now(),
	}
}

// DeviceID returns the device this Session belongs to.
func (s *Store) DeviceID() string {
	return s.deviceID
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		DeviceID: s.deviceID,
		User:     s.user.Clone(),
		Token:    s.token,
		Loading:  s.loading,
		Error:    s.lastErr,
	}
	if exp, ok := tokenExpiry(s.token); ok {
		snap.TokenExpiresAt = &exp
	}
	return snap
}

// IsAuthenticated holds only when both a token and a user are present.
func (s *Store) IsAuthenticated() bool {
	return s.Snapshot().IsAuthenticated()
}

// Touch marks the Session as used now.
func (s *Store) Touch() {
	s.mu.Lock()
	s.lastActive = s.now()
	s.mu.Unlock()
}

// LastActive returns when the Session was last used.
func (s *Store) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

// Login authenticates with email and password. On failure the previous
// token and user are left untouched and the error is recorded.
func (s *Store) Login(ctx context.Context, email, password string) (Credentials, error) {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	defer s.begin()()

	body, err := s.idp.Login(ctx, email, password)
	if err != nil {
		return Credentials{}, s.fail("login", err)
	}
	return s.establish(ctx, EventLogin, body)
}

// Signup registers an account and signs it in, with the same contract as Login.
func (s *Store) Signup(ctx context.Context, req authapi.SignupRequest) (Credentials, error) {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	defer s.begin()()

	body, err := s.idp.Signup(ctx, req)
	if err != nil {
		return Credentials{}, s.fail("signup", err)
	}
	return s.establish(ctx, EventSignup, body)
}

// Logout clears the Session. The Identity Service is notified best-effort;
// its failure is logged and never prevents local clearing.
func (s *Store) Logout(ctx context.Context) {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	defer s.begin()()
	s.logoutLocked(ctx)
}

// FetchUser refreshes the user record from the Identity Service. Without a
// token it does nothing. Any failure is treated as an invalid session and
// results in a full logout.
func (s *Store) FetchUser(ctx context.Context) {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	if !s.hasToken() {
		return
	}
	defer s.begin()()

	if err := s.refreshUserLocked(ctx); err != nil {
		s.logger.Error("Failed to fetch user", "error", err)
		s.record("fetch_user", "logout")
		s.logoutLocked(ctx)
	}
}

// Restore resurrects the Session from the persisted credential record. It is
// best-effort: a failed refresh keeps the optimistically restored state. The
// only error is ErrPersistenceUnavailable, when the token could not be read;
// the record is left intact so a later Restore can succeed.
func (s *Store) Restore(ctx context.Context) error {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	storedToken, ok, err := s.read(ctx, domain.CredentialToken)
	if err != nil {
		// Unreadable is not absent: keep the record for the next attempt.
		s.logger.Error("Restore: failed to read persisted token", "error", err)
		s.record("restore", "storage_error")
		return fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	if !ok {
		s.logger.Debug("No usable persisted token, clearing credential record")
		s.clearPersisted(ctx)
		return nil
	}

	s.mu.Lock()
	s.token = storedToken
	s.mu.Unlock()

	rawUser, ok, err := s.read(ctx, domain.CredentialUser)
	if err != nil {
		s.logger.Error("Restore: failed to read persisted user, continuing token-only", "error", err)
	}
	if ok {
		var user domain.User
		if err := json.Unmarshal([]byte(rawUser), &user); err != nil {
			s.logger.Warn("Discarding persisted user record",
				"error", fmt.Errorf("%w: %v", ErrMalformedPersistedRecord, err))
			s.remove(ctx, domain.CredentialUser)
		} else {
			s.mu.Lock()
			s.user = &user
			s.mu.Unlock()
		}
	}

	if exp, ok := tokenExpiry(storedToken); ok && exp.Before(s.now()) {
		s.logger.Info("Restored token is past its expiry hint", "expired_at", exp)
	}

	done := s.begin()
	err = s.refreshUserLocked(ctx)
	done()
	if err != nil {
		s.logger.Error("Restore: failed to refresh user data", "error", err)
		s.record("restore", "stale")
	} else {
		s.record("restore", "ok")
	}

	s.publish(EventRestore)
	return nil
}

// begin marks an action in flight and returns the matching release.
func (s *Store) begin() func() {
	s.mu.Lock()
	s.loading = true
	s.lastErr = ""
	s.lastActive = s.now()
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
	}
}

func (s *Store) fail(action string, err error) error {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()

	outcome := "error"
	if errors.Is(err, ErrInvalidResponseShape) {
		outcome = "invalid_response"
	}
	s.record(action, outcome)
	s.logger.Error("Auth action failed", "action", action, "error", err)
	return err
}

func (s *Store) establish(ctx context.Context, kind EventKind, body []byte) (Credentials, error) {
	creds, shape, err := resolveAuthPayload(body)
	if err != nil {
		s.logger.Warn("Unresolvable auth response", "action", string(kind), "shape", shape.String())
		return Credentials{}, s.fail(string(kind), err)
	}

	s.persist(ctx, domain.CredentialToken, creds.Token)
	s.persistUser(ctx, creds.User)

	s.mu.Lock()
	s.token = creds.Token
	s.user = creds.User
	s.mu.Unlock()

	s.record(string(kind), "ok")
	s.logger.Info("Session established", "action", string(kind), "shape", shape.String(), "role", string(creds.User.Role))
	s.publish(kind)

	return Credentials{Token: creds.Token, User: creds.User.Clone()}, nil
}

func (s *Store) hasToken() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != ""
}

func (s *Store) refreshUserLocked(ctx context.Context) error {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	if token == "" {
		return nil
	}

	body, err := s.idp.CurrentUser(ctx, token)
	if err != nil {
		return err
	}
	user, err := resolveCurrentUser(body)
	if err != nil {
		return err
	}

	s.persistUser(ctx, user)
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()

	s.record("fetch_user", "ok")
	s.publish(EventRefresh)
	return nil
}

func (s *Store) logoutLocked(ctx context.Context) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	if token != "" {
		if err := s.idp.Logout(ctx, token); err != nil {
			s.logger.Warn("Logout notification failed", "error", err)
		}
	}

	s.clearPersisted(ctx)

	s.mu.Lock()
	s.token = ""
	s.user = nil
	s.lastErr = ""
	s.mu.Unlock()

	s.record("logout", "ok")
	s.publish(EventLogout)
}

// read returns a persisted value, treating absence sentinels as missing.
// A storage failure is returned as an error, never as absence.
func (s *Store) read(ctx context.Context, key string) (string, bool, error) {
	v, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", key, err)
	}
	if !ok || domain.IsAbsentValue(v) {
		return "", false, nil
	}
	return v, true, nil
}

func (s *Store) persist(ctx context.Context, key, value string) {
	if err := s.kv.Set(ctx, key, value); err != nil {
		s.logger.Error("Failed to persist credential", "key", key, "error", err)
	}
}

func (s *Store) persistUser(ctx context.Context, user *domain.User) {
	data, err := json.Marshal(user)
	if err != nil {
		s.logger.Error("Failed to encode user record", "error", err)
		return
	}
	s.persist(ctx, domain.CredentialUser, string(data))
}

func (s *Store) remove(ctx context.Context, key string) {
	if err := s.kv.Delete(ctx, key); err != nil {
		s.logger.Error("Failed to delete persisted credential", "key", key, "error", err)
	}
}

func (s *Store) clearPersisted(ctx context.Context) {
	s.remove(ctx, domain.CredentialToken)
	s.remove(ctx, domain.CredentialUser)
}

func (s *Store) record(action, outcome string) {
	if s.recorder != nil {
		s.recorder.RecordAuthAction(action, outcome)
	}
}

func (s *Store) publish(kind EventKind) {
	if s.notifier == nil {
		return
	}
	s.mu.RLock()
	ev := Event{
		Kind:          kind,
		DeviceID:      s.deviceID,
		Authenticated: s.token != "" && s.user != nil,
		User:          s.user.Clone(),
		At:            s.now(),
	}
	s.mu.RUnlock()
	s.notifier.Notify(ev)
}
