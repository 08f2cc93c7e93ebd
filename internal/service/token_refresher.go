package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vipul43/mailsync/internal/models"
)

// TokenRefreshMargin is how long before expiry an access token is treated as expired.
const TokenRefreshMargin = 5 * time.Minute

// TokenRefresher returns a usable access token for an account, refreshing it through the
// OAuth token endpoint when it is missing or about to expire.
type TokenRefresher struct {
	accounts  TokenStore
	exchanger TokenExchanger
	cipher    TokenCipher
	now       func() time.Time
}

func NewTokenRefresher(accounts TokenStore, exchanger TokenExchanger, cipher TokenCipher) *TokenRefresher {
	return &TokenRefresher{
		accounts:  accounts,
		exchanger: exchanger,
		cipher:    cipher,
		now:       time.Now,
	}
}

// EnsureFreshToken decrypts the stored token and refreshes it when needed.
// The account is updated in place with the new ciphertext and expiry.
func (r *TokenRefresher) EnsureFreshToken(ctx context.Context, account *models.MailboxAccount) (string, error) {
	accessToken := r.decrypt(account.ID, "access", account.AccessTokenEnc)
	refreshToken := r.decrypt(account.ID, "refresh", account.RefreshTokenEnc)

	if accessToken == "" && refreshToken == "" {
		return "", ErrNoCredentials
	}

	if accessToken != "" && !r.isTokenExpired(account.TokenExpiresAt) {
		return accessToken, nil
	}

	if refreshToken == "" {
		return "", fmt.Errorf("access token expired and no refresh token stored: %w", ErrNoCredentials)
	}

	log.Info().Str("account_id", account.ID).Msg("access token expired, refreshing")
	return r.refreshToken(ctx, account, refreshToken)
}

func (r *TokenRefresher) refreshToken(ctx context.Context, account *models.MailboxAccount, refreshToken string) (string, error) {
	result, err := r.exchanger.RefreshAccessToken(ctx, refreshToken)
	if err != nil {
		return "", &RefreshFailedError{AccountID: account.ID, Err: err}
	}
	if result.AccessToken == "" {
		return "", &RefreshFailedError{AccountID: account.ID, Err: errors.New("token endpoint returned an empty access token")}
	}
	if r.cipher == nil {
		return "", errors.New("token encryption is not configured")
	}

	accessEnc, err := r.cipher.Encrypt(result.AccessToken)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt access token: %w", err)
	}

	var refreshEnc *string
	if result.RefreshToken != "" && result.RefreshToken != refreshToken {
		enc, err := r.cipher.Encrypt(result.RefreshToken)
		if err != nil {
			return "", fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		refreshEnc = &enc
	}

	if err := r.accounts.UpdateTokens(ctx, account.ID, accessEnc, refreshEnc, result.ExpiresAt); err != nil {
		return "", fmt.Errorf("failed to store refreshed token: %w", err)
	}

	expiresAt := result.ExpiresAt
	account.AccessTokenEnc = &accessEnc
	account.TokenExpiresAt = &expiresAt
	if refreshEnc != nil {
		account.RefreshTokenEnc = refreshEnc
	}

	return result.AccessToken, nil
}

// isTokenExpired checks if token is expired or will expire within the refresh margin
func (r *TokenRefresher) isTokenExpired(expiresAt *time.Time) bool {
	if expiresAt == nil {
		return true
	}
	return r.now().Add(TokenRefreshMargin).After(*expiresAt)
}

// decrypt returns "" for missing or unreadable ciphertext.
func (r *TokenRefresher) decrypt(accountID, kind string, ciphertext *string) string {
	if ciphertext == nil || *ciphertext == "" || r.cipher == nil {
		return ""
	}
	plain, err := r.cipher.Decrypt(*ciphertext)
	if err != nil {
		log.Warn().Err(err).Str("account_id", accountID).Str("token", kind).Msg("stored token could not be decrypted")
		return ""
	}
	return plain
}
