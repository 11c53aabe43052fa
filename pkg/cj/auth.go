package cj

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/angelmondragon/orderflow-backend/pkg/providerauth"
)

type tokenData struct {
	AccessToken            string `json:"accessToken"`
	AccessTokenExpiryDate  string `json:"accessTokenExpiryDate"`
	RefreshToken           string `json:"refreshToken"`
	RefreshTokenExpiryDate string `json:"refreshTokenExpiryDate"`
}

// Authenticate implements providerauth.Authenticator. It prefers the refresh
// token when one is still valid and falls back to the API key.
func (c *Client) Authenticate(ctx context.Context, previous providerauth.Token) (providerauth.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, c.authTimeout)
	defer cancel()

	if previous.CanRefreshAt(c.now()) {
		var data tokenData
		err := c.do(ctx, "refresh_token", http.MethodPost, "/authentication/refreshAccessToken", "", map[string]string{
			"refreshToken": previous.RefreshToken,
		}, &data)
		if err == nil && data.AccessToken != "" {
			return data.token(), nil
		}
		var apiErr *APIError
		if err != nil && !providerauth.IsAuthFailure(err) && !errors.As(err, &apiErr) {
			return providerauth.Token{}, err
		}
	}

	body := map[string]string{"apiKey": c.apiKey}
	if c.email != "" {
		body["email"] = c.email
	}
	var data tokenData
	if err := c.do(ctx, "get_access_token", http.MethodPost, "/authentication/getAccessToken", "", body, &data); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return providerauth.Token{}, &providerauth.AuthError{Status: http.StatusOK, Code: "api_key", Message: apiErr.Message}
		}
		return providerauth.Token{}, err
	}
	return data.token(), nil
}

func (d tokenData) token() providerauth.Token {
	return providerauth.Token{
		AccessToken:      d.AccessToken,
		ExpiresAt:        parseExpiry(d.AccessTokenExpiryDate),
		RefreshToken:     d.RefreshToken,
		RefreshExpiresAt: parseExpiry(d.RefreshTokenExpiryDate),
	}
}

// parseExpiry accepts the offset timestamps CJ returns; unknown formats yield
// zero, which the token treats as non-expiring until the provider rejects it.
func parseExpiry(value string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05.000-0700", "2006-01-02T15:04:05-0700", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
