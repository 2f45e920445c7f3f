package handlers

import (
	"context"
	"sort"
	"sync"
	"time"

	"backoffice/internal/models"
	"backoffice/internal/rbac"
	"backoffice/internal/repository"
)

type memUsers struct {
	mu   sync.Mutex
	byID map[string]models.User
}

func (m *memUsers) Create(_ context.Context, user models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == user.Email {
			return repository.ErrEmailTaken
		}
	}
	user.CreatedAt = time.Now()
	m.byID[user.ID] = user
	return nil
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return models.User{}, repository.ErrUserNotFound
}

func (m *memUsers) GetByID(_ context.Context, id string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byID[id]; ok {
		return u, nil
	}
	return models.User{}, repository.ErrUserNotFound
}

func (m *memUsers) List(_ context.Context, limit, offset int) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.User, 0, len(m.byID))
	for _, u := range m.byID {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memUsers) update(id string, fn func(*models.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	fn(&u)
	m.byID[id] = u
	return nil
}

func (m *memUsers) UpdateStatus(_ context.Context, id string, status models.UserStatus) error {
	return m.update(id, func(u *models.User) { u.Status = status })
}

func (m *memUsers) UpdateRole(_ context.Context, id string, role rbac.Role) error {
	return m.update(id, func(u *models.User) { u.Role = role })
}

func (m *memUsers) UpdatePasswordHash(_ context.Context, id string, hash string) error {
	return m.update(id, func(u *models.User) { u.PasswordHash = hash })
}

func (m *memUsers) TouchLastLogin(_ context.Context, id string) error {
	now := time.Now()
	return m.update(id, func(u *models.User) { u.LastLoginAt = &now })
}

type memSessions struct {
	mu   sync.Mutex
	byID map[string]models.Session
	seq  int64
}

func (m *memSessions) Create(_ context.Context, session models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	session.CreatedAt = time.Now()
	session.LastSeenAt = time.Unix(m.seq, 0)
	m.byID[session.ID] = session
	return nil
}

func (m *memSessions) GetByID(_ context.Context, id string) (models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.byID[id]; ok {
		return s, nil
	}
	return models.Session{}, repository.ErrSessionNotFound
}

func (m *memSessions) Rotate(_ context.Context, id, current, next string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok || s.RefreshTokenID != current || s.RevokedAt != nil {
		return repository.ErrRefreshReplay
	}
	s.RefreshTokenID = next
	s.ExpiresAt = expiresAt
	m.byID[id] = s
	return nil
}

func (m *memSessions) Revoke(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok || s.RevokedAt != nil {
		return repository.ErrSessionNotFound
	}
	now := time.Now()
	s.RevokedAt = &now
	m.byID[id] = s
	return nil
}

func (m *memSessions) RevokeAllForUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for id, s := range m.byID {
		if s.UserID == userID && s.RevokedAt == nil {
			s.RevokedAt = &now
			m.byID[id] = s
		}
	}
	return nil
}

func (m *memSessions) active(userID string) []models.Session {
	now := time.Now()
	var out []models.Session
	for _, s := range m.byID {
		if s.UserID == userID && s.Active(now) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeenAt.After(out[j].LastSeenAt) })
	return out
}

func (m *memSessions) CountActiveByUser(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active(userID)), nil
}

func (m *memSessions) RevokeOldest(_ context.Context, userID string, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for i, s := range m.active(userID) {
		if i >= keep {
			s.RevokedAt = &now
			m.byID[s.ID] = s
		}
	}
	return nil
}

func (m *memSessions) ListActiveByUser(_ context.Context, userID string) ([]models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active(userID), nil
}

type nopCredentials struct{}

func (nopCredentials) Upsert(context.Context, models.OAuthCredential) error { return nil }

type onceStates struct {
	mu   sync.Mutex
	used map[string]bool
}

func (o *onceStates) Claim(_ context.Context, id string, _ time.Duration) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.used[id] {
		return false, nil
	}
	o.used[id] = true
	return true, nil
}
