package jnap

import (
	"errors"
	"fmt"
)

// Sentinel errors mapped from JNAP result codes.
var (
	ErrInvalidCredentials = errors.New("jnap: invalid credentials")
	ErrInvalidInput       = errors.New("jnap: invalid input")
	ErrUnknownAction      = errors.New("jnap: unknown action")
	ErrDeviceNotFound     = errors.New("jnap: device not in network")
	ErrNotPrimary         = errors.New("jnap: node is not the primary")
	ErrBadResponse        = errors.New("jnap: malformed response")
)

// ResultError is a JNAP failure result that has no dedicated sentinel.
type ResultError struct {
	Action string
	Result string
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("jnap: action %s failed with result %s", e.Action, e.Result)
}

// errorForResult maps a non-OK result code to an error. Result codes are
// the stringly-typed `_Error*` values the firmware returns.
func errorForResult(action, result string) error {
	switch result {
	case "_ErrorUnauthorized", "ErrorInvalidAdminPassword":
		return ErrInvalidCredentials
	case "_ErrorInvalidInput":
		return ErrInvalidInput
	case "_ErrorUnknownAction":
		return ErrUnknownAction
	case "ErrorDeviceNotInNetwork":
		return ErrDeviceNotFound
	case "_ErrorUnknownLanDevice":
		return ErrDeviceNotFound
	default:
		return &ResultError{Action: action, Result: result}
	}
}
