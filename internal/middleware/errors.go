package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"backoffice/internal/apperr"
)

type errorBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// AbortWithError writes the JSON error envelope for err and stops the chain.
// Errors that are not *apperr.Error are reported as internal without leaking
// their text.
func AbortWithError(c *gin.Context, err error) {
	_ = c.Error(err)

	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{
			Error:   apperr.CodeInternal,
			Message: "internal server error",
		})
		return
	}

	body := errorBody{Error: appErr.Code, Message: appErr.Message, Details: appErr.Details}
	if appErr.Kind == apperr.KindInternal {
		body.Message = "internal server error"
		body.Details = nil
	}
	c.AbortWithStatusJSON(apperr.HTTPStatus(appErr), body)
}
