package handlers

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"

	"backoffice/internal/apperr"
	"backoffice/internal/service"
)

func (h HandlerSet) checkProvider(c *gin.Context) bool {
	if c.Param("provider") != h.cfg.OAuth.Provider {
		h.fail(c, apperr.NotFound("unknown identity provider"))
		return false
	}
	return true
}

// OAuthStart redirects the browser to the provider's consent page.
func (h HandlerSet) OAuthStart(c *gin.Context) {
	if !h.checkProvider(c) {
		return
	}
	authURL, err := h.auth.StartFederation()
	if err != nil {
		h.fail(c, err)
		return
	}
	if c.Query("mode") == "json" {
		c.JSON(http.StatusOK, gin.H{"authorizationUrl": authURL})
		return
	}
	c.Redirect(http.StatusFound, authURL)
}

// OAuthCallback finishes the provider redirect. With a configured success
// redirect the tokens travel back to the UI in the URL fragment, which is
// never sent to servers.
func (h HandlerSet) OAuthCallback(c *gin.Context) {
	if !h.checkProvider(c) {
		return
	}
	if providerErr := c.Query("error"); providerErr != "" {
		h.fail(c, apperr.Forbidden("authorization was not granted", map[string]string{"provider_error": providerErr}))
		return
	}

	result, err := h.auth.CompleteFederation(c.Request.Context(), service.FederationInput{
		State:  c.Query("state"),
		Code:   c.Query("code"),
		Client: clientInfo(c),
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	target := h.cfg.OAuth.SuccessRedirect
	if target == "" || c.Query("mode") == "json" {
		c.JSON(http.StatusOK, toTokenResponse(result))
		return
	}

	fragment := url.Values{
		"access_token":  {result.Tokens.AccessToken},
		"refresh_token": {result.Tokens.RefreshToken},
		"expires_at":    {strconv.FormatInt(result.Tokens.AccessExpiresAt.Unix(), 10)},
		"token_type":    {"Bearer"},
	}
	c.Redirect(http.StatusFound, target+"#"+fragment.Encode())
}
