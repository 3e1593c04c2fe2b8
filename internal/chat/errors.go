package chat

import (
	"errors"
	"fmt"
)

var (
	ErrAuth              = errors.New("authentication failed")
	ErrCredentialMissing = fmt.Errorf("%w: credential missing", ErrAuth)
	ErrCredentialInvalid = fmt.Errorf("%w: credential invalid", ErrAuth)
	ErrIdentityMismatch  = fmt.Errorf("%w: claimed identity does not match credential", ErrAuth)
	ErrIdentityConflict  = fmt.Errorf("%w: connection is already bound to another identity", ErrAuth)
	ErrIdentityTaken     = fmt.Errorf("%w: identity is held by a verified connection", ErrAuth)

	ErrValidation     = errors.New("validation failed")
	ErrEmptyContent   = fmt.Errorf("%w: message content cannot be empty", ErrValidation)
	ErrContentTooLong = fmt.Errorf("%w: message content is too long", ErrValidation)
	ErrInvalidClaim   = fmt.Errorf("%w: invalid identity claim", ErrValidation)
	ErrNotBound       = fmt.Errorf("%w: connection has not claimed an identity", ErrValidation)

	ErrNotFound  = errors.New("not found")
	ErrTransport = errors.New("transport send failed")
)
