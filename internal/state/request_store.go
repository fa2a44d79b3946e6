// ./internal/state/request_store.go
package state

import (
	"encoding/json"
	"fmt"

	"github.com/custodia-labs/cvm/internal/types"
)

// SaveRequestQueues replaces both persisted request queues with the
// in-memory ones, in a single transaction.
func SaveRequestQueues(deposits []types.DepositRequest, withdrawals []types.WithdrawRequest) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	tx, err := DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin request transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM deposit_requests;`); err != nil {
		return fmt.Errorf("failed to clear deposit requests: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM withdraw_requests;`); err != nil {
		return fmt.Errorf("failed to clear withdraw requests: %w", err)
	}

	depositQuery := `
		INSERT INTO deposit_requests (request_id, owner, amount, request, created_at)
		VALUES ($1, $2, $3, $4, $5);
	`
	for i := range deposits {
		requestJSON, err := json.Marshal(deposits[i])
		if err != nil {
			return fmt.Errorf("failed to marshal deposit request %s: %w", deposits[i].ID, err)
		}
		_, err = tx.Exec(depositQuery,
			deposits[i].ID, deposits[i].Owner, deposits[i].Amount.String(),
			requestJSON, deposits[i].CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save deposit request %s: %w", deposits[i].ID, err)
		}
	}

	withdrawQuery := `
		INSERT INTO withdraw_requests (request_id, owner, shares, request, created_at)
		VALUES ($1, $2, $3, $4, $5);
	`
	for i := range withdrawals {
		requestJSON, err := json.Marshal(withdrawals[i])
		if err != nil {
			return fmt.Errorf("failed to marshal withdraw request %s: %w", withdrawals[i].ID, err)
		}
		_, err = tx.Exec(withdrawQuery,
			withdrawals[i].ID, withdrawals[i].Owner, withdrawals[i].Shares.String(),
			requestJSON, withdrawals[i].CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save withdraw request %s: %w", withdrawals[i].ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit request queues: %w", err)
	}
	return nil
}

// LoadRequestQueues returns every persisted deposit and withdraw request.
func LoadRequestQueues() ([]types.DepositRequest, []types.WithdrawRequest, error) {
	if DB == nil {
		return nil, nil, fmt.Errorf("database not initialized")
	}

	depositRows, err := DB.Query(`SELECT request FROM deposit_requests ORDER BY created_at;`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query deposit requests: %w", err)
	}
	defer depositRows.Close()

	var deposits []types.DepositRequest
	for depositRows.Next() {
		var requestJSON []byte
		if err := depositRows.Scan(&requestJSON); err != nil {
			return nil, nil, fmt.Errorf("failed to scan deposit request row: %w", err)
		}
		var request types.DepositRequest
		if err := json.Unmarshal(requestJSON, &request); err != nil {
			return nil, nil, fmt.Errorf("failed to unmarshal deposit request: %w", err)
		}
		deposits = append(deposits, request)
	}
	if err := depositRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating deposit request rows: %w", err)
	}

	withdrawRows, err := DB.Query(`SELECT request FROM withdraw_requests ORDER BY created_at;`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query withdraw requests: %w", err)
	}
	defer withdrawRows.Close()

	var withdrawals []types.WithdrawRequest
	for withdrawRows.Next() {
		var requestJSON []byte
		if err := withdrawRows.Scan(&requestJSON); err != nil {
			return nil, nil, fmt.Errorf("failed to scan withdraw request row: %w", err)
		}
		var request types.WithdrawRequest
		if err := json.Unmarshal(requestJSON, &request); err != nil {
			return nil, nil, fmt.Errorf("failed to unmarshal withdraw request: %w", err)
		}
		withdrawals = append(withdrawals, request)
	}
	if err := withdrawRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating withdraw request rows: %w", err)
	}

	return deposits, withdrawals, nil
}
