package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/vipul43/mailsync/internal/repository"
)

const oauthStateTTL = 10 * time.Minute

// OAuthStart records a one-time state for the signed-in user and redirects to Google consent.
func (h *Handler) OAuthStart(c *gin.Context) {
	userID := c.GetString(userIDKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	state, err := h.deps.States.Create(c.Request.Context(), userID, oauthStateTTL)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to store oauth state")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.Redirect(http.StatusFound, h.deps.OAuth.AuthCodeURL(state))
}

// OAuthCallback completes the consent flow and links the mailbox to the user who started it.
func (h *Handler) OAuthCallback(c *gin.Context) {
	if denied := c.Query("error"); denied != "" {
		c.Redirect(http.StatusFound, h.accountsPage(url.Values{"error": {denied}}))
		return
	}

	state, code := c.Query("state"), c.Query("code")
	if state == "" || code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "state and code are required"})
		return
	}

	ctx := c.Request.Context()
	userID, err := h.deps.States.Consume(ctx, state)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired state"})
			return
		}
		log.Error().Err(err).Msg("failed to consume oauth state")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	creds, err := h.deps.OAuth.ExchangeCode(ctx, code)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("oauth code exchange failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to exchange authorization code"})
		return
	}

	email, err := h.deps.OAuth.GetProfileEmail(ctx, creds.AccessToken)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("failed to read mailbox profile")
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to read mailbox profile"})
		return
	}

	account, _, err := h.deps.Linker.LinkAccount(ctx, userID, email, *creds)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to link account")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to link account"})
		return
	}

	log.Info().Str("user_id", userID).Str("account_id", account.ID).Msg("mailbox linked")
	c.Redirect(http.StatusFound, h.accountsPage(url.Values{"linked": {account.ID}}))
}

func (h *Handler) accountsPage(query url.Values) string {
	return strings.TrimRight(h.cfg.FrontendURL, "/") + "/settings/accounts?" + query.Encode()
}
