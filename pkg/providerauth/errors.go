package providerauth

import (
	"errors"
	"fmt"
)

// AuthError is returned by provider calls when the provider rejected the
// presented credential, either with HTTP 401 or a provider-specific code.
type AuthError struct {
	Status  int
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider auth failure (status %d, code %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("provider auth failure (status %d): %s", e.Status, e.Message)
}

// IsAuthFailure reports whether err carries an AuthError.
func IsAuthFailure(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
