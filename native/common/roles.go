package common

import "errors"

// Role identifiers consulted before every capability-gated mutation.
const (
	// RoleAdmin covers tier/config changes, signer rotation and write-offs.
	RoleAdmin = "ROLE_ADMIN"
	// RoleRegistryUpdater is held only by the lending pool so that nothing
	// else can move per-account utilization counters.
	RoleRegistryUpdater = "ROLE_REGISTRY_UPDATER"
	// RoleFactoryCreator marks integrators authorised to mint agreements.
	RoleFactoryCreator = "ROLE_FACTORY_CREATOR"
)

// ErrUnauthorized is returned when the caller lacks the required capability.
var ErrUnauthorized = errors.New("unauthorized")

// RoleView exposes role membership checks backed by the state manager.
type RoleView interface {
	HasRole(role string, addr []byte) bool
}

// RequireRole rejects callers that do not hold the named capability. A nil
// view denies everything so that a mis-wired engine fails closed.
func RequireRole(v RoleView, role string, addr [20]byte) error {
	if v == nil {
		return ErrUnauthorized
	}
	if !v.HasRole(role, addr[:]) {
		return ErrUnauthorized
	}
	return nil
}
