package user

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository used by tests and local runs.
// Returned users are copies; mutations go through the repository.
type MemoryRepository struct {
	users map[uuid.UUID]*User
	mu    sync.RWMutex
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users: make(map[uuid.UUID]*User),
	}
}

func (r *MemoryRepository) FindByEmail(_ context.Context, email string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if u := r.activeByEmail(email); u != nil {
		return clone(u), nil
	}
	return nil, ErrUserNotFound
}

func (r *MemoryRepository) FindByID(_ context.Context, id uuid.UUID) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, exists := r.users[id]
	if !exists {
		return nil, ErrUserNotFound
	}
	return clone(u), nil
}

func (r *MemoryRepository) Create(_ context.Context, user *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.createLocked(user)
}

func (r *MemoryRepository) createLocked(user *User) error {
	user.Email = NormalizeEmail(user.Email)
	if user.IsActive && r.activeByEmail(user.Email) != nil {
		return ErrDuplicateEmail
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	r.users[user.ID] = clone(user)
	return nil
}

func (r *MemoryRepository) UpdateLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	return r.update(id, func(u *User) {
		u.LastLogin = &at
	})
}

func (r *MemoryRepository) RecordFailedAttempt(_ context.Context, email string, threshold int, lockUntil time.Time) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u := r.activeByEmail(email)
	if u == nil {
		return nil, ErrUserNotFound
	}
	u.FailedLoginAttempts++
	if u.FailedLoginAttempts >= threshold {
		until := lockUntil
		u.LockedUntil = &until
	}
	u.UpdatedAt = time.Now()
	return clone(u), nil
}

func (r *MemoryRepository) ResetAttempts(_ context.Context, id uuid.UUID, at time.Time) error {
	return r.update(id, func(u *User) {
		u.FailedLoginAttempts = 0
		u.LockedUntil = nil
		u.LastLogin = &at
	})
}

func (r *MemoryRepository) ClearLock(_ context.Context, id uuid.UUID) error {
	return r.update(id, func(u *User) {
		u.FailedLoginAttempts = 0
		u.LockedUntil = nil
	})
}

func (r *MemoryRepository) Deactivate(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, exists := r.users[id]
	if !exists || !u.IsActive {
		return false, nil
	}
	u.IsActive = false
	u.UpdatedAt = time.Now()
	return true, nil
}

// Count returns the number of stored users, active or not.
func (r *MemoryRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

func (r *MemoryRepository) update(id uuid.UUID, fn func(*User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, exists := r.users[id]
	if !exists {
		return ErrUserNotFound
	}
	fn(u)
	u.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryRepository) activeByEmail(email string) *User {
	email = NormalizeEmail(email)
	for _, u := range r.users {
		if u.IsActive && u.Email == email {
			return u
		}
	}
	return nil
}

func clone(u *User) *User {
	c := *u
	if u.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(u.Metadata))
		for k, v := range u.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
