package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, token vaults, and external
// clients return these (optionally wrapped) so services can translate them
// into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrConflict: concurrent write lost (chain append, current-version race)
// - ErrExpired: handle/key/cache entry has expired
// - ErrInvalidState: entity in wrong lifecycle state for requested operation
// - ErrUnavailable: external decision point or timestamp authority unreachable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
