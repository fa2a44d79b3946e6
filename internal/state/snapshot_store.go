// ./internal/state/snapshot_store.go
package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/custodia-labs/cvm/internal/types"
)

// SaveVaultSnapshot persists one durable image of the aggregate and returns
// its row id. The full snapshot travels as JSONB; the scalar columns exist
// for querying without unpacking the blob.
func SaveVaultSnapshot(snapshot types.VaultSnapshot) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal vault snapshot: %w", err)
	}

	query := `
		INSERT INTO vault_snapshots (
			vault_id, taken_at, status, total_shares,
			cur_epoch, cur_epoch_loss, cur_epoch_loss_baseline,
			deposit_fee_bps, withdraw_fee_bps, fee_collected, snapshot
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING snapshot_id;
	`

	var snapshotID int64
	err = DB.QueryRow(
		query,
		snapshot.VaultID, snapshot.TakenAt, string(snapshot.Status), snapshot.TotalShares.String(),
		snapshot.CurEpoch, snapshot.CurEpochLoss.String(), snapshot.CurEpochLossBaseline.String(),
		snapshot.DepositFeeBps, snapshot.WithdrawFeeBps, snapshot.FeeCollected.String(),
		snapshotJSON,
	).Scan(&snapshotID)

	if err != nil {
		return 0, fmt.Errorf("failed to save vault snapshot: %w", err)
	}

	log.Info().
		Int64("snapshot_id", snapshotID).
		Uint64("vault_id", snapshot.VaultID).
		Str("status", string(snapshot.Status)).
		Msg("Vault snapshot saved to database")

	return snapshotID, nil
}

// LoadLatestVaultSnapshot returns the newest snapshot for a vault, or
// (nil, nil) when none has ever been taken.
func LoadLatestVaultSnapshot(vaultID uint64) (*types.VaultSnapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT snapshot
		FROM vault_snapshots
		WHERE vault_id = $1
		ORDER BY taken_at DESC, snapshot_id DESC
		LIMIT 1;
	`

	var snapshotJSON []byte
	err := DB.QueryRow(query, vaultID).Scan(&snapshotJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest vault snapshot: %w", err)
	}

	var snapshot types.VaultSnapshot
	if err := json.Unmarshal(snapshotJSON, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal vault snapshot: %w", err)
	}

	return &snapshot, nil
}
