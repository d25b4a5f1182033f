package userstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/leafcart/storeauth"
)

// Memory keeps users in process memory.
type Memory struct {
	mu      sync.RWMutex
	byID    map[string]storeauth.UserRecord
	byEmail map[string]string
	now     func() time.Time
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		byID:    make(map[string]storeauth.UserRecord),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (storeauth.UserRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return storeauth.UserRecord{}, storeauth.ErrUserNotFound
	}
	return m.byID[id], nil
}

func (m *Memory) GetUserByID(_ context.Context, userID string) (storeauth.UserRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.byID[userID]
	if !ok {
		return storeauth.UserRecord{}, storeauth.ErrUserNotFound
	}
	return u, nil
}

func (m *Memory) CreateUser(_ context.Context, in storeauth.CreateUserInput) (storeauth.UserRecord, error) {
	email := strings.ToLower(in.Email)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.byEmail[email]; taken {
		return storeauth.UserRecord{}, storeauth.ErrAccountExists
	}
	u := storeauth.UserRecord{
		UserID:       uuid.NewString(),
		Email:        email,
		Name:         in.Name,
		PasswordHash: in.PasswordHash,
		Role:         in.Role,
		IsAdmin:      in.IsAdmin,
		CreatedAt:    m.now().UTC(),
	}
	m.byID[u.UserID] = u
	m.byEmail[email] = u.UserID
	return u, nil
}

func (m *Memory) UpdatePasswordHash(_ context.Context, userID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[userID]
	if !ok {
		return storeauth.ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	m.byID[userID] = u
	return nil
}

// SetAdmin grants or removes the admin role. It exists for seeding the first
// back-office account.
func (m *Memory) SetAdmin(userID string, admin bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[userID]
	if !ok {
		return storeauth.ErrUserNotFound
	}
	u.IsAdmin = admin
	if admin {
		u.Role = storeauth.RoleAdmin
	} else {
		u.Role = storeauth.RoleCustomer
	}
	m.byID[userID] = u
	return nil
}

// Len returns the number of stored users.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

var _ storeauth.UserProvider = (*Memory)(nil)
