package service

import (
	"errors"
	"fmt"

	"github.com/paperhub/paperhub/internal/paper/store"
)

var (
	ErrNotFound = store.ErrNotFound
	// ErrForbidden means the caller identity failed the authorization
	// predicate (not the author). Terminal, no store mutation happened.
	ErrForbidden = errors.New("forbidden")
	// ErrConflictExhausted surfaces the store's transaction retry bound.
	ErrConflictExhausted = store.ErrConflictExhausted
	// ErrValidation marks requests rejected locally before reaching the store.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthenticated means no caller identity was supplied at all.
	ErrUnauthenticated = errors.New("unauthenticated")
)

func validationf(format string, v ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrValidation}, v...)...)
}
