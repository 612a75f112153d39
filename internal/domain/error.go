package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrInvalidArgument = errors.New("invalid argument")

	// Redemption outcomes. Callers branch on these to build user-facing messages.
	ErrCodeNotFound     = errors.New("premium code not found")
	ErrCodeNotYetValid  = errors.New("premium code is not valid yet")
	ErrCodeExpired      = errors.New("premium code has expired")
	ErrAlreadyRedeemed  = errors.New("premium code already redeemed by this user")
	ErrDeviceCapReached = errors.New("device limit reached for this tier")

	// ErrEntitlementNotFound is benign: it resolves to a non-premium status.
	ErrEntitlementNotFound = errors.New("no entitlement for user")

	ErrInvalidDeviceToken = errors.New("invalid device token")

	// System faults
	ErrStorageFault       = errors.New("storage fault")
	ErrCorruptRecord      = fmt.Errorf("%w: malformed stored record", ErrStorageFault)
	ErrInvalidExecContext = fmt.Errorf("%w: invalid execution context", ErrStorageFault)
	ErrReadDatabaseRow    = fmt.Errorf("%w: failed to read database row", ErrStorageFault)
	ErrOperationFailed    = fmt.Errorf("%w: database operation failed", ErrStorageFault)
)
