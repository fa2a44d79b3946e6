/*

This file implements the risk/authorization gate: a role table keyed by
opaque capability IDs, plus freeze and version checks. Every mutating entry
point in the engine calls the applicable subset of these checks before any
state mutation, so authorization logic lives in exactly one place.

*/

package access

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/custodia-labs/cvm/internal/logger"
	"github.com/custodia-labs/cvm/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrUnknownCapability = errors.New("capability is not registered")
	ErrWrongRole         = errors.New("capability does not carry the required role")
	ErrRoleFrozen        = errors.New("capability is frozen")
	ErrVersionMismatch   = errors.New("engine version mismatch")
	ErrLastAdmin         = errors.New("cannot revoke or freeze the last active admin")
)

var gateLogger = logger.GetForComponent("access_gate")

// Role is the privilege level a capability carries.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleOperator Role = "OPERATOR"
)

// Capability is one issued credential. The ID is opaque to the gate; the
// surrounding system decides what it means (an address, a token, a key hash).
type Capability struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Frozen    bool      `json:"frozen"`
	GrantedAt time.Time `json:"granted_at"`
}

// Gate is the role table consumed by every mutating entry point.
type Gate struct {
	caps    map[string]*Capability
	version uint64
}

// NewGate creates a gate seeded with a root admin capability. The engine
// cannot be administered at all without at least one admin.
func NewGate(rootAdminID string, now time.Time) *Gate {
	g := &Gate{
		caps:    make(map[string]*Capability),
		version: types.EngineVersion,
	}
	g.caps[rootAdminID] = &Capability{ID: rootAdminID, Role: RoleAdmin, GrantedAt: now}
	return g
}

// RequireVersion rejects callers built against a different engine version.
func (g *Gate) RequireVersion(current uint64) error {
	if current != g.version {
		return fmt.Errorf("%w: gate at %d, caller at %d", ErrVersionMismatch, g.version, current)
	}
	return nil
}

// RequireRole checks that the capability exists and carries the role.
func (g *Gate) RequireRole(capID string, role Role) error {
	cap, exists := g.caps[capID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownCapability, capID)
	}
	if cap.Role != role {
		return fmt.Errorf("%w: %s holds %s, %s required", ErrWrongRole, capID, cap.Role, role)
	}
	return nil
}

// RequireNotFrozen rejects frozen capabilities.
func (g *Gate) RequireNotFrozen(capID string) error {
	cap, exists := g.caps[capID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownCapability, capID)
	}
	if cap.Frozen {
		return fmt.Errorf("%w: %s", ErrRoleFrozen, capID)
	}
	return nil
}

// Authorize runs the full check sequence for one capability: version, role,
// freeze. Mutating entry points call this as their first statement.
func (g *Gate) Authorize(capID string, role Role, callerVersion uint64) error {
	if err := g.RequireVersion(callerVersion); err != nil {
		return err
	}
	if err := g.RequireRole(capID, role); err != nil {
		return err
	}
	return g.RequireNotFrozen(capID)
}

// GrantRole issues a new capability. Admin only.
func (g *Gate) GrantRole(adminCapID, newCapID string, role Role, now time.Time) error {
	if err := g.Authorize(adminCapID, RoleAdmin, types.EngineVersion); err != nil {
		return err
	}
	if newCapID == "" {
		return fmt.Errorf("%w: empty capability ID", ErrUnknownCapability)
	}
	if existing, exists := g.caps[newCapID]; exists {
		return fmt.Errorf("capability %s already granted role %s", newCapID, existing.Role)
	}

	g.caps[newCapID] = &Capability{ID: newCapID, Role: role, GrantedAt: now}
	gateLogger.Info().Str("cap_id", newCapID).Str("role", string(role)).Msg("Capability granted")
	return nil
}

// RevokeRole removes a capability entirely. Admin only. The last active admin
// cannot be revoked, or the vault would become unadministrable.
func (g *Gate) RevokeRole(adminCapID, capID string) error {
	if err := g.Authorize(adminCapID, RoleAdmin, types.EngineVersion); err != nil {
		return err
	}
	cap, exists := g.caps[capID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownCapability, capID)
	}
	if cap.Role == RoleAdmin && g.activeAdminCount() <= 1 {
		return fmt.Errorf("%w: %s", ErrLastAdmin, capID)
	}

	delete(g.caps, capID)
	gateLogger.Info().Str("cap_id", capID).Msg("Capability revoked")
	return nil
}

// SetRoleFrozen freezes or unfreezes a capability. Admin only. A frozen
// capability fails RequireNotFrozen everywhere until unfrozen.
func (g *Gate) SetRoleFrozen(adminCapID, capID string, frozen bool) error {
	if err := g.Authorize(adminCapID, RoleAdmin, types.EngineVersion); err != nil {
		return err
	}
	cap, exists := g.caps[capID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownCapability, capID)
	}
	if frozen && cap.Role == RoleAdmin && g.activeAdminCount() <= 1 {
		return fmt.Errorf("%w: %s", ErrLastAdmin, capID)
	}

	cap.Frozen = frozen
	gateLogger.Info().Str("cap_id", capID).Bool("frozen", frozen).Msg("Capability freeze toggled")
	return nil
}

func (g *Gate) activeAdminCount() int {
	count := 0
	for _, cap := range g.caps {
		if cap.Role == RoleAdmin && !cap.Frozen {
			count++
		}
	}
	return count
}

// Capabilities returns a copy of the role table, sorted by ID, for
// persistence and the dashboard.
func (g *Gate) Capabilities() []Capability {
	out := make([]Capability, 0, len(g.caps))
	for _, cap := range g.caps {
		out = append(out, *cap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Restore replaces the role table from persisted capabilities.
func (g *Gate) Restore(caps []Capability) {
	g.caps = make(map[string]*Capability, len(caps))
	for i := range caps {
		cap := caps[i]
		g.caps[cap.ID] = &cap
	}
}
