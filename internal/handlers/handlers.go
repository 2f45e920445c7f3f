package handlers

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"backoffice/internal/apperr"
	"backoffice/internal/auth"
	"backoffice/internal/config"
	"backoffice/internal/middleware"
	"backoffice/internal/rbac"
	"backoffice/internal/service"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

type HandlerSet struct {
	log      zerolog.Logger
	cfg      *config.AppConfig
	auth     *service.AuthService
	users    *service.UserService
	resolver *auth.Resolver
	checks   map[string]HealthCheck
}

func NewHandlerSet(
	log zerolog.Logger,
	cfg *config.AppConfig,
	authService *service.AuthService,
	userService *service.UserService,
	resolver *auth.Resolver,
	checks map[string]HealthCheck,
) HandlerSet {
	return HandlerSet{
		log:      log,
		cfg:      cfg,
		auth:     authService,
		users:    userService,
		resolver: resolver,
		checks:   checks,
	}
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/v1")
	v1.Use(middleware.Authenticate(h.resolver))

	authGroup := v1.Group("/auth")
	{
		authGroup.POST("/register", h.RegisterUser)
		authGroup.POST("/login", h.Login)
		authGroup.POST("/refresh", h.Refresh)
		authGroup.GET("/oauth/:provider/start", h.OAuthStart)
		authGroup.GET("/oauth/:provider/callback", h.OAuthCallback)

		authGroup.POST("/logout", middleware.Wrap(h.Logout, auth.Options{}))
		authGroup.GET("/me", middleware.Wrap(h.Me, auth.Options{}))
		authGroup.GET("/sessions", middleware.Wrap(h.ListSessions, auth.Options{}))
		authGroup.DELETE("/sessions/:sessionId", middleware.Wrap(h.RevokeSession, auth.Options{}))
	}

	v1.GET("/users/:id", middleware.RequireGuard(func(c *gin.Context) auth.Guard {
		owner := c.Param("id")
		return func(u *auth.User) error { return auth.OwnershipOrStaff(u, owner) }
	}), h.GetUser)

	admin := v1.Group("/admin")
	{
		admin.GET("/users", middleware.Wrap(h.AdminListUsers, auth.Options{Permission: rbac.ReadUsers}))
		admin.PATCH("/users/:id/role", middleware.Wrap(h.AdminChangeRole, auth.Options{Permission: rbac.ManageUsers}))
		admin.PATCH("/users/:id/status", middleware.Wrap(h.AdminChangeStatus, auth.Options{
			AnyOf: []rbac.Permission{rbac.ManageUsers, rbac.ManageSystem},
		}))
		admin.GET("/permissions", middleware.Wrap(h.AdminPermissions, auth.Options{Role: rbac.RoleStaff}))
	}
}

// bind decodes the JSON body, reporting binding failures as validation errors.
func bind(c *gin.Context, out any) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		appErr := apperr.Validation("invalid request body")
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				appErr = appErr.WithDetail(fe.Field(), fe.Tag())
			}
		}
		middleware.AbortWithError(c, appErr)
		return false
	}
	return true
}

func (h HandlerSet) fail(c *gin.Context, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		h.log.Error().Err(err).Str("path", c.Request.URL.Path).Str("request_id", middleware.RequestIDFrom(c)).Msg("request failed")
	}
	middleware.AbortWithError(c, err)
}
