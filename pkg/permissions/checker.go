// Package permissions maps pharmacy roles to permission strings and checks
// them with support for wildcards.
//
// Permission Format:
//   - "*" - Full access (all permissions)
//   - "resource.*" - All actions on a resource (e.g., "pharmacy.movements.*")
//   - "resource.action" - Specific action (e.g., "pharmacy.medicines.write")
package permissions

import (
	"strings"

	"github.com/medflow/pharmacy-ledger/pkg/actor"
)

// Pharmacy permissions
const (
	MedicinesRead    = "pharmacy.medicines.read"
	MedicinesWrite   = "pharmacy.medicines.write"
	BatchesRead      = "pharmacy.batches.read"
	BatchesWrite     = "pharmacy.batches.write"
	MovementsRead    = "pharmacy.movements.read"
	MovementsInflow  = "pharmacy.movements.inflow"
	MovementsOutflow = "pharmacy.movements.outflow"
	MovementsAdjust  = "pharmacy.movements.adjust"
	MovementsReverse = "pharmacy.movements.reverse"
	ReportsRead      = "pharmacy.reports.read"
)

// RolePermissions is the static role grant table. The auth layer owns role
// assignment; the ledger only decides what each role may do.
var RolePermissions = map[string][]string{
	actor.RoleAdmin:      {"*"},
	actor.RolePharmacist: {"pharmacy.*"},
	actor.RoleCoordinator: {
		MedicinesRead,
		BatchesRead,
		BatchesWrite,
		MovementsRead,
		MovementsInflow,
		MovementsOutflow,
		ReportsRead,
	},
	actor.RoleReception: {
		MedicinesRead,
		BatchesRead,
		MovementsRead,
		MovementsInflow,
		MovementsOutflow,
		ReportsRead,
	},
}

// ForRole returns the permissions granted to a role. Unknown roles get none.
func ForRole(role string) []string {
	return RolePermissions[strings.ToLower(role)]
}

// Allowed reports whether the actor's role grants the permission.
func Allowed(a *actor.Actor, required string) bool {
	if a == nil {
		return false
	}
	if a.IsSystem() {
		return true
	}
	return HasPermission(ForRole(a.Role), required)
}

// HasPermission checks if the user's permissions include the required permission.
// Supports wildcard matching:
//   - "*" matches everything
//   - "pharmacy.*" matches "pharmacy.medicines.read", "pharmacy.movements.adjust", etc.
//   - Exact match for specific permissions
func HasPermission(userPerms []string, required string) bool {
	if required == "" {
		return true // No permission required
	}

	for _, p := range userPerms {
		if p == "*" {
			return true // Full admin access
		}
		if p == required {
			return true // Exact match
		}
		// Check wildcard patterns like "pharmacy.*"
		if strings.HasSuffix(p, ".*") {
			prefix := strings.TrimSuffix(p, ".*")
			if strings.HasPrefix(required, prefix+".") {
				return true
			}
		}
	}
	return false
}

// HasAnyPermission checks if the user has any of the required permissions.
func HasAnyPermission(userPerms []string, required []string) bool {
	for _, req := range required {
		if HasPermission(userPerms, req) {
			return true
		}
	}
	return false
}
