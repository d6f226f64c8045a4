package service

import (
	"errors"
	"fmt"

	"github.com/Smart-Samurai/Krapi-sub010/internal/config"
)

var (
	ErrInvalidCredentials      = errors.New("invalid credentials")
	ErrInvalidAPIKey           = errors.New("invalid api key")
	ErrInactiveAPIKey          = errors.New("api key is inactive")
	ErrExpiredAPIKey           = errors.New("api key has expired")
	ErrInvalidOrExpiredSession = errors.New("invalid or expired session")
	ErrUnauthenticated         = errors.New("unauthenticated")
	ErrForbidden               = errors.New("forbidden")
	ErrNotFound                = errors.New("not found")
	ErrConflict                = errors.New("conflict")
	ErrInvalidInput            = errors.New("invalid input")
	ErrStoreUnavailable        = errors.New("store unavailable")
)

// Classify maps store errors onto the service taxonomy. Errors already in the
// taxonomy and unknown errors pass through unchanged.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, config.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, config.ErrConflict):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case config.IsConnectivityError(err):
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	default:
		return err
	}
}

// forbidden wraps ErrForbidden with a reason.
func forbidden(reason string) error {
	return fmt.Errorf("%w: %s", ErrForbidden, reason)
}

// invalid wraps ErrInvalidInput with a reason.
func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
