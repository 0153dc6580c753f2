package auth

import (
	"context"
	"strings"
	"sync"

	"github.com/vidfriends/mediahub/internal/models"
	"github.com/vidfriends/mediahub/internal/repositories"
)

// NewInMemoryCredentialStore returns a CredentialStore backed by an in-memory map.
func NewInMemoryCredentialStore(users ...models.User) *InMemoryCredentialStore {
	s := &InMemoryCredentialStore{users: make(map[string]models.User)}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

// InMemoryCredentialStore implements CredentialStore for tests and local development.
type InMemoryCredentialStore struct {
	mu    sync.RWMutex
	users map[string]models.User
}

// Put inserts or replaces a user record.
func (s *InMemoryCredentialStore) Put(user models.User) {
	s.mu.Lock()
	s.users[user.ID] = user
	s.mu.Unlock()
}

// Create inserts a new user, rejecting duplicate usernames or emails.
func (s *InMemoryCredentialStore) Create(_ context.Context, user models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == user.ID || strings.EqualFold(u.Username, user.Username) || strings.EqualFold(u.Email, user.Email) {
			return repositories.ErrConflict
		}
	}
	s.users[user.ID] = user
	return nil
}

// ExistsByUsernameOrEmail reports whether either value is taken.
func (s *InMemoryCredentialStore) ExistsByUsernameOrEmail(_ context.Context, username, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) || strings.EqualFold(u.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

// FindByIdentifier matches the username or email.
func (s *InMemoryCredentialStore) FindByIdentifier(_ context.Context, identifier string) (models.User, error) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.ToLower(u.Username) == identifier || strings.ToLower(u.Email) == identifier {
			return u, nil
		}
	}
	return models.User{}, repositories.ErrNotFound
}

// FindByID retrieves a user by identifier.
func (s *InMemoryCredentialStore) FindByID(_ context.Context, id string) (models.User, error) {
	s.mu.RLock()
	u, ok := s.users[id]
	s.mu.RUnlock()
	if !ok {
		return models.User{}, repositories.ErrNotFound
	}
	return u, nil
}

// SetRefreshToken overwrites the stored refresh token.
func (s *InMemoryCredentialStore) SetRefreshToken(_ context.Context, userID string, token *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return repositories.ErrNotFound
	}
	u.RefreshToken = copyToken(token)
	s.users[userID] = u
	return nil
}

// CompareAndSwapRefreshToken swaps the stored token only when it equals expected.
func (s *InMemoryCredentialStore) CompareAndSwapRefreshToken(_ context.Context, userID, expected, next string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return false, repositories.ErrNotFound
	}
	if u.RefreshToken == nil || *u.RefreshToken != expected {
		return false, nil
	}
	u.RefreshToken = &next
	s.users[userID] = u
	return true, nil
}

// StoredRefreshToken reports the current token for userID. Useful for tests.
func (s *InMemoryCredentialStore) StoredRefreshToken(userID string) *string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyToken(s.users[userID].RefreshToken)
}

func copyToken(token *string) *string {
	if token == nil {
		return nil
	}
	v := *token
	return &v
}
