package storage

import "errors"

var (
	// ErrTokenNotFound is returned when no TokenRecord exists for a key
	ErrTokenNotFound = errors.New("token record not found")

	// ErrTenantConfigNotFound is returned when a tenant has no OAuth client configured
	ErrTenantConfigNotFound = errors.New("tenant oauth config not found")

	// ErrMembershipNotFound is returned when a principal has no matching tenant membership
	ErrMembershipNotFound = errors.New("membership not found")

	// ErrLockNotAcquired is returned by a RefreshLocker that gave up waiting
	ErrLockNotAcquired = errors.New("refresh lock not acquired")

	// ErrInvalidRecord is returned when a record is nil or its key is incomplete
	ErrInvalidRecord = errors.New("invalid token record")
)
