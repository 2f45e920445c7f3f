package tokencache

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"backoffice/internal/auth"
	"backoffice/internal/rbac"
)

const DefaultExpiryBuffer = 5 * time.Minute

// Cache is the client-side token lifecycle on top of a Store.
type Cache struct {
	store  Store
	buffer time.Duration
	now    func() time.Time
}

type Option func(*Cache)

func WithBuffer(d time.Duration) Option {
	return func(c *Cache) {
		if d >= 0 {
			c.buffer = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

func New(store Store, opts ...Option) *Cache {
	c := &Cache{store: store, buffer: DefaultExpiryBuffer, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) SetTokens(token CachedToken) error {
	return c.store.Save(token)
}

func (c *Cache) GetTokens() (CachedToken, bool, error) {
	return c.store.Load()
}

// HasValidToken reports whether the access token has more than the buffer
// left before it expires. Read failures count as no token.
func (c *Cache) HasValidToken() bool {
	token, ok, err := c.store.Load()
	if err != nil || !ok || token.AccessToken == "" {
		return false
	}
	return c.now().Add(c.buffer).Before(token.ExpiresAt)
}

// ClearTokens is idempotent.
func (c *Cache) ClearTokens() error {
	return c.store.Clear()
}

// UserCache holds the identity decoded from the current access token for
// display purposes. The token is decoded without verifying its signature, so
// the result must never drive an authorization decision.
type UserCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	token   string
	user    *auth.User
	decoded time.Time
}

func NewUserCache(ttl time.Duration) *UserCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &UserCache{ttl: ttl, now: time.Now}
}

type displayClaims struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	Role      rbac.Role `json:"role"`
	SessionID string    `json:"sessionId"`
	jwt.RegisteredClaims
}

// User returns the cached identity for accessToken, decoding it again when
// the token changed or the entry is older than the TTL.
func (u *UserCache) User(accessToken string) (*auth.User, bool) {
	if accessToken == "" {
		return nil, false
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	now := u.now()
	if u.user != nil && u.token == accessToken && now.Sub(u.decoded) < u.ttl {
		return u.user, true
	}

	var claims displayClaims
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		u.clearLocked()
		return nil, false
	}
	id := claims.Subject
	if id == "" {
		id = claims.UserID
	}
	if id == "" {
		u.clearLocked()
		return nil, false
	}

	u.token = accessToken
	u.user = &auth.User{
		ID:          id,
		Email:       claims.Email,
		Role:        claims.Role,
		Permissions: rbac.PermissionsFor(claims.Role),
		SessionID:   claims.SessionID,
	}
	u.decoded = now
	return u.user, true
}

func (u *UserCache) Clear() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.clearLocked()
}

func (u *UserCache) clearLocked() {
	u.token = ""
	u.user = nil
	u.decoded = time.Time{}
}
