// ./internal/state/receipt_store.go
package state

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/custodia-labs/cvm/internal/types"
)

// SaveReceipts replaces the persisted receipt set with the in-memory one.
// Receipts are few (one per depositor with a live balance) and the whole set
// is rewritten after each reconciliation, inside one transaction so a crash
// never leaves a half-written set.
func SaveReceipts(receipts []types.Receipt) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	tx, err := DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin receipt transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM receipts;`); err != nil {
		return fmt.Errorf("failed to clear receipts: %w", err)
	}

	query := `
		INSERT INTO receipts (owner, shares, pending_withdraw_shares, claimable, receipt, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6);
	`
	now := time.Now().UTC()
	for i := range receipts {
		receiptJSON, err := json.Marshal(receipts[i])
		if err != nil {
			return fmt.Errorf("failed to marshal receipt for %s: %w", receipts[i].Owner, err)
		}
		_, err = tx.Exec(query,
			receipts[i].Owner,
			receipts[i].Shares.String(),
			receipts[i].PendingWithdrawShares.String(),
			receipts[i].Claimable.String(),
			receiptJSON,
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to save receipt for %s: %w", receipts[i].Owner, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit receipts: %w", err)
	}
	return nil
}

// LoadReceipts returns every persisted receipt.
func LoadReceipts() ([]types.Receipt, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := DB.Query(`SELECT receipt FROM receipts ORDER BY owner;`)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []types.Receipt
	for rows.Next() {
		var receiptJSON []byte
		if err := rows.Scan(&receiptJSON); err != nil {
			return nil, fmt.Errorf("failed to scan receipt row: %w", err)
		}
		var receipt types.Receipt
		if err := json.Unmarshal(receiptJSON, &receipt); err != nil {
			return nil, fmt.Errorf("failed to unmarshal receipt: %w", err)
		}
		receipts = append(receipts, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating receipt rows: %w", err)
	}

	return receipts, nil
}
