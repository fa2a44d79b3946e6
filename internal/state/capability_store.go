// ./internal/state/capability_store.go
package state

import (
	"fmt"

	"github.com/custodia-labs/cvm/internal/access"
)

// SaveCapabilities replaces the persisted role table with the in-memory one.
func SaveCapabilities(caps []access.Capability) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	tx, err := DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin capability transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM capabilities;`); err != nil {
		return fmt.Errorf("failed to clear capabilities: %w", err)
	}

	query := `
		INSERT INTO capabilities (cap_id, role, frozen, granted_at)
		VALUES ($1, $2, $3, $4);
	`
	for i := range caps {
		_, err := tx.Exec(query, caps[i].ID, string(caps[i].Role), caps[i].Frozen, caps[i].GrantedAt)
		if err != nil {
			return fmt.Errorf("failed to save capability %s: %w", caps[i].ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit capabilities: %w", err)
	}
	return nil
}

// LoadCapabilities returns every persisted capability.
func LoadCapabilities() ([]access.Capability, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := DB.Query(`SELECT cap_id, role, frozen, granted_at FROM capabilities ORDER BY cap_id;`)
	if err != nil {
		return nil, fmt.Errorf("failed to query capabilities: %w", err)
	}
	defer rows.Close()

	var caps []access.Capability
	for rows.Next() {
		var cap access.Capability
		var role string
		if err := rows.Scan(&cap.ID, &role, &cap.Frozen, &cap.GrantedAt); err != nil {
			return nil, fmt.Errorf("failed to scan capability row: %w", err)
		}
		cap.Role = access.Role(role)
		caps = append(caps, cap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating capability rows: %w", err)
	}

	return caps, nil
}
