package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffice/internal/apperr"
	"backoffice/internal/auth"
	"backoffice/internal/rbac"
	"backoffice/internal/security"
)

const testSecret = "middleware-test-secret-0123456789abcdef"

func init() {
	gin.SetMode(gin.TestMode)
}

type env struct {
	router *gin.Engine
	codec  *security.Codec
	now    time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	now := time.Now()
	codec, err := security.NewCodec(testSecret, security.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	router := gin.New()
	router.Use(RequestID(), Recovery(zerolog.Nop()), Logger(zerolog.Nop()), Authenticate(auth.NewResolver(codec)))

	whoami := func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			c.JSON(http.StatusOK, gin.H{"id": ""})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": user.ID, "role": user.Role})
	}

	router.GET("/public", Wrap(whoami, auth.Options{Optional: true}))
	router.GET("/me", Wrap(whoami, auth.Options{}))
	router.GET("/users", Require(auth.Options{Permission: rbac.ReadUsers}), whoami)
	router.GET("/status", Wrap(whoami, auth.Options{AnyOf: []rbac.Permission{rbac.ManageUsers, rbac.ManageSystem}}))
	router.GET("/staff", Require(auth.Options{Role: rbac.RoleStaff}), whoami)
	router.GET("/users/:id", RequireGuard(func(c *gin.Context) auth.Guard {
		owner := c.Param("id")
		return func(u *auth.User) error { return auth.OwnershipOrStaff(u, owner) }
	}), whoami)
	profile := auth.Wrap(func(_ context.Context, u *auth.User) (string, error) { return u.ID, nil }, auth.Options{})
	router.GET("/profile", func(c *gin.Context) {
		id, err := profile(c.Request.Context())
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id})
	})
	router.GET("/panic", func(c *gin.Context) { panic("boom") })
	router.GET("/fail", func(c *gin.Context) { AbortWithError(c, errors.New("db password leaked")) })

	return &env{router: router, codec: codec, now: now}
}

func (e *env) token(t *testing.T, role rbac.Role, kind security.TokenKind) string {
	t.Helper()
	token, err := e.codec.Sign(security.TokenClaims{
		SubjectID:   "user-1",
		Email:       "ada@example.com",
		Role:        role,
		Permissions: rbac.PermissionsFor(role).Slice(),
		SessionID:   "sess-1",
		Kind:        kind,
	}, 15*time.Minute)
	require.NoError(t, err)
	return token
}

func (e *env) do(t *testing.T, path, header string) (*httptest.ResponseRecorder, errorBody) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var body errorBody
	if rec.Code >= 400 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestGuardMatrix(t *testing.T) {
	e := newEnv(t)
	admin := "Bearer " + e.token(t, rbac.RoleAdmin, security.TokenKindAccess)
	staff := "Bearer " + e.token(t, rbac.RoleStaff, security.TokenKindAccess)
	customer := "Bearer " + e.token(t, rbac.RoleCustomer, security.TokenKindAccess)

	cases := []struct {
		name   string
		path   string
		header string
		status int
		code   string
	}{
		{"public anonymous", "/public", "", http.StatusOK, ""},
		{"public with user", "/public", customer, http.StatusOK, ""},
		{"me anonymous", "/me", "", http.StatusUnauthorized, apperr.CodeUnauthenticated},
		{"me customer", "/me", customer, http.StatusOK, ""},
		{"users staff", "/users", staff, http.StatusOK, ""},
		{"users customer", "/users", customer, http.StatusForbidden, apperr.CodeForbidden},
		{"status admin", "/status", admin, http.StatusOK, ""},
		{"status staff", "/status", staff, http.StatusForbidden, apperr.CodeForbidden},
		{"staff role admin", "/staff", admin, http.StatusOK, ""},
		{"staff role customer", "/staff", customer, http.StatusForbidden, apperr.CodeForbidden},
		{"owner", "/users/user-1", customer, http.StatusOK, ""},
		{"not owner", "/users/user-2", customer, http.StatusForbidden, apperr.CodeForbidden},
		{"staff not owner", "/users/user-2", staff, http.StatusOK, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, body := e.do(t, tc.path, tc.header)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, body.Error)
		})
	}
}

func TestForbiddenCarriesRequirement(t *testing.T) {
	e := newEnv(t)
	_, body := e.do(t, "/users", "Bearer "+e.token(t, rbac.RoleCustomer, security.TokenKindAccess))
	assert.Equal(t, string(rbac.ReadUsers), body.Details["permission"])
}

func TestCredentialFailuresAreReported(t *testing.T) {
	e := newEnv(t)

	past, err := security.NewCodec(testSecret, security.WithClock(func() time.Time { return e.now.Add(-time.Hour) }))
	require.NoError(t, err)
	expired, err := past.Sign(security.TokenClaims{
		SubjectID: "user-1",
		Role:      rbac.RoleStaff,
		Kind:      security.TokenKindAccess,
	}, time.Minute)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		code   string
	}{
		{"expired", "Bearer " + expired, apperr.CodeTokenExpired},
		{"refresh as access", "Bearer " + e.token(t, rbac.RoleStaff, security.TokenKindRefresh), apperr.CodeWrongTokenKind},
		{"malformed header", "Basic abc", apperr.CodeMalformedHeader},
		{"garbage token", "Bearer abc", apperr.CodeMalformedToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, body := e.do(t, "/me", tc.header)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, tc.code, body.Error)
		})
	}

	// optional routes ignore a broken credential
	rec, _ := e.do(t, "/public", "Bearer "+expired)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestContextCarriesIdentity(t *testing.T) {
	e := newEnv(t)

	rec, _ := e.do(t, "/profile", "Bearer "+e.token(t, rbac.RoleCustomer, security.TokenKindAccess))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"user-1"}`, rec.Body.String())

	rec, body := e.do(t, "/profile", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, apperr.CodeUnauthenticated, body.Error)

	rec, body = e.do(t, "/profile", "Bearer "+e.token(t, rbac.RoleStaff, security.TokenKindRefresh))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, apperr.CodeWrongTokenKind, body.Error)
}

func TestRecoveryAndInternalErrors(t *testing.T) {
	e := newEnv(t)

	rec, body := e.do(t, "/panic", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, apperr.CodeInternal, body.Error)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	rec, body = e.do(t, "/fail", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
	assert.Equal(t, "internal server error", body.Message)
}

func TestRequestIDIsEchoed(t *testing.T) {
	e := newEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/public", nil)
	req.Header.Set(requestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get(requestIDHeader))
}

func TestRequestIDRejectsUnsafeValues(t *testing.T) {
	e := newEnv(t)
	for _, forged := range []string{"bad id with spaces", strings.Repeat("a", 200), "x\u00e9"} {
		req := httptest.NewRequest(http.MethodGet, "/public", nil)
		req.Header.Set(requestIDHeader, forged)
		rec := httptest.NewRecorder()
		e.router.ServeHTTP(rec, req)

		got := rec.Header().Get(requestIDHeader)
		assert.NotEqual(t, forged, got)
		assert.True(t, validRequestID(got))
	}
}

func TestCORSPreflight(t *testing.T) {
	router := gin.New()
	router.Use(CORS([]string{"https://admin.example.com/"}))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/x", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := preflight("https://admin.example.com")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://admin.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")

	rec = preflight("https://evil.example.com")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSWildcardNeverAllowsCredentials(t *testing.T) {
	router := gin.New()
	router.Use(CORS([]string{"*"}))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://anywhere.example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}
