// ./internal/metrics/metrics.go
package metrics

import (
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/custodia-labs/cvm/internal/types"
	"github.com/custodia-labs/cvm/internal/utils"
	"github.com/custodia-labs/cvm/internal/vault"
)

var (
	totalValueUSD = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cvm_vault_total_value_usd",
		Help: "Aggregate valuation of every slot in canonical USD units.",
	})
	totalShares = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cvm_vault_total_shares",
		Help: "Outstanding share supply.",
	})
	shareRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cvm_vault_share_ratio",
		Help: "Total value divided by total shares.",
	})
	duringOperation = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cvm_vault_during_operation",
		Help: "1 while an operation holds custody of borrowed slots, else 0.",
	})
	epochLossUSD = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cvm_vault_epoch_loss_usd",
		Help: "Loss charged against the current epoch budget.",
	})
	feeCollectedUSD = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cvm_vault_fee_collected_usd",
		Help: "Skimmed fees awaiting admin withdrawal.",
	})
	depositQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cvm_deposit_queue_depth",
		Help: "Queued deposit requests awaiting execution.",
	})
	withdrawQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cvm_withdraw_queue_depth",
		Help: "Queued withdraw requests awaiting execution.",
	})

	// FeedErrors counts failed oracle fetches.
	FeedErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cvm_feed_errors_total",
		Help: "Oracle feed fetches that failed after retries.",
	})
)

// Publish refreshes the gauge family from a vault snapshot. Valuation errors
// are swallowed here: a stale ledger already shows up as a frozen gauge and
// the engine's own calls surface the error where it matters.
func Publish(v vault.Reader, now time.Time) {
	if total, err := v.TotalValue(now); err == nil {
		setDisplay(totalValueUSD, total)
	}
	setDisplay(totalShares, v.TotalShares())
	if ratio, err := v.ShareRatio(now); err == nil {
		if f, err := ratio.Float64(); err == nil {
			shareRatio.Set(f)
		}
	}
	if v.OpRecord() != nil {
		duringOperation.Set(1)
	} else {
		duringOperation.Set(0)
	}
	setDisplay(epochLossUSD, v.CurEpochLoss())
	setDisplay(feeCollectedUSD, v.FeeCollected())
	depositQueueDepth.Set(float64(len(v.PendingDepositRequests())))
	withdrawQueueDepth.Set(float64(len(v.PendingWithdrawRequests())))
}

func setDisplay(gauge prometheus.Gauge, amount sdkmath.Int) {
	if f, err := utils.IntToDisplayFloat(amount, types.CanonicalDecimals); err == nil {
		gauge.Set(f)
	}
}
