package errs

import "errors"

var (
	ErrDeviceNotFound      error = errors.New("device not found")
	ErrDeviceNotRegistered error = errors.New("device is not registered")
	ErrDeviceRevoked       error = errors.New("device has been revoked")
	ErrDeviceAlreadyBound  error = errors.New("device is already bound to an account")

	ErrPairingCodeNotFound error = errors.New("pairing code not found")
	ErrPairingCodeExpired  error = errors.New("pairing code expired")

	ErrCredentialsNotReady error = errors.New("credentials not ready")

	ErrAccountNotFound error = errors.New("account not found")
	ErrAccountDisabled error = errors.New("account is disabled or banned")

	ErrPostNotFound    error = errors.New("post not found")
	ErrCommentNotFound error = errors.New("comment not found")

	ErrReactionLimit error = errors.New("distinct reaction limit reached for post")

	ErrRateLimited error = errors.New("rate limit exceeded")

	ErrValidateBadRequest error = errors.New("struct validation error")
)
