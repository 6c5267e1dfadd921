package orders

import "github.com/ariefcatur/go-order-saga/internal/auth"

// Authorize is the access policy for a single order: owners and privileged
// callers are allowed.
func Authorize(requesterID string, role auth.Role, ownerID string) bool {
	if role == auth.RoleAdmin {
		return true
	}
	return requesterID != "" && requesterID == ownerID
}
