package services

import (
	"errors"
	"fmt"
)

// Общие ошибки движка синхронизации, используемые в сервисах и маппинге HTTP.
var (
	ErrNotFound       = errors.New("requested resource not found")
	ErrDuplicateLink  = errors.New("account name is already linked")
	ErrForbidden      = errors.New("operation not allowed for the current user")
	ErrInvalidAccount = errors.New("invalid account details")
	// ErrInvalidOverride: total must be in [0, 500).
	ErrInvalidOverride = errors.New("override total must be between 0 and 499")
	ErrInvalidSetting  = errors.New("invalid setting value")

	// ErrAlreadyRunning is informational: a cycle is already in progress.
	ErrAlreadyRunning     = errors.New("a resync is already running")
	ErrPersistenceFailure = errors.New("persistence failure")

	ErrAuthInvalidCredentials = errors.New("invalid client credentials")
)

func persistenceError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistenceFailure, err)
}
