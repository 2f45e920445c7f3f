package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"backoffice/internal/middleware"
	"backoffice/internal/rbac"
)

func (h HandlerSet) GetUser(c *gin.Context) {
	user, err := h.users.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": toUserResponse(user)})
}

func (h HandlerSet) AdminListUsers(c *gin.Context) {
	limit := 50
	offset := 0

	if perPage := c.Query("perPage"); perPage != "" {
		if v, err := strconv.Atoi(perPage); err == nil && v > 0 && v <= 200 {
			limit = v
		}
	}
	if page := c.Query("page"); page != "" {
		if v, err := strconv.Atoi(page); err == nil && v > 1 {
			offset = (v - 1) * limit
		}
	}

	users, err := h.users.List(c.Request.Context(), limit, offset)
	if err != nil {
		h.fail(c, err)
		return
	}

	items := make([]userResponse, 0, len(users))
	for _, u := range users {
		items = append(items, toUserResponse(u))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type changeRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

func (h HandlerSet) AdminChangeRole(c *gin.Context) {
	var req changeRoleRequest
	if !bind(c, &req) {
		return
	}
	user, err := h.users.ChangeRole(c.Request.Context(), middleware.CurrentUser(c), c.Param("id"), req.Role)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": toUserResponse(user)})
}

type changeStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h HandlerSet) AdminChangeStatus(c *gin.Context) {
	var req changeStatusRequest
	if !bind(c, &req) {
		return
	}
	user, err := h.users.ChangeStatus(c.Request.Context(), middleware.CurrentUser(c), c.Param("id"), req.Status)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": toUserResponse(user)})
}

// AdminPermissions lists the role to permission table.
func (h HandlerSet) AdminPermissions(c *gin.Context) {
	roles := make(map[string][]string, len(rbac.Roles()))
	for _, role := range rbac.Roles() {
		roles[string(role)] = rbac.PermissionsFor(role).Strings()
	}
	all := make([]string, 0, len(rbac.All()))
	for _, p := range rbac.All() {
		all = append(all, string(p))
	}
	c.JSON(http.StatusOK, gin.H{"roles": roles, "permissions": all})
}
