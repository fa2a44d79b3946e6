package main

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/custodia-labs/cvm/internal/access"
	"github.com/custodia-labs/cvm/internal/adaptor"
	"github.com/custodia-labs/cvm/internal/config"
	"github.com/custodia-labs/cvm/internal/logger"
	"github.com/custodia-labs/cvm/internal/metrics"
	"github.com/custodia-labs/cvm/internal/pricing"
	"github.com/custodia-labs/cvm/internal/state"
	"github.com/custodia-labs/cvm/internal/vault"
	"github.com/custodia-labs/cvm/internal/web"
)

const (
	LOOP_INTERVAL = 1 * time.Minute
)

// main is the entry point for the CVM service.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("CVM Engine Starting...")

	dbCfg := state.DBConfig{
		Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
		User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
		DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	now := time.Now().UTC()

	// --- 2. Rebuild collaborators from persisted state ---
	gate := access.NewGate(config.AdminCapID, now)
	caps, err := state.LoadCapabilities()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load capabilities")
	}
	if len(caps) > 0 {
		gate.Restore(caps)
	} else if err := gate.GrantRole(config.AdminCapID, config.OperatorCapID, access.RoleOperator, now); err != nil {
		log.Fatal().Err(err).Msg("Failed to grant operator capability")
	}

	book := pricing.NewPriceBook(config.MaxPriceInterval)
	priceEntries, err := state.LoadPriceEntries()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load price entries")
	}
	if len(priceEntries) > 0 {
		book.Restore(priceEntries)
	}

	adaptors := adaptor.NewRegistry()
	adaptors.Register(adaptor.NewLendingAdaptor())
	adaptors.Register(adaptor.NewAMMAdaptor(config.PoolDeviationBps))

	vaultCfg := vault.Config{
		VaultID:          config.VaultID,
		PrincipalDenom:   config.PrincipalDenom,
		Gate:             gate,
		Book:             book,
		Adaptors:         adaptors,
		MaxStaleness:     config.MaxValuationStaleness,
		LossToleranceBps: config.LossToleranceBps,
		MaxFeeBps:        config.MaxFeeBps,
	}

	// --- 3. Restore the vault, or create a fresh one ---
	var engine *vault.Vault
	snapshot, err := state.LoadLatestVaultSnapshot(config.VaultID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load vault snapshot")
	}
	if snapshot != nil {
		receipts, err := state.LoadReceipts()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load receipts")
		}
		deposits, withdrawals, err := state.LoadRequestQueues()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load request queues")
		}
		engine, err = vault.Restore(vaultCfg, *snapshot, receipts, deposits, withdrawals)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to restore vault from snapshot")
		}
		log.Info().Uint64("vault_id", engine.ID()).Str("status", string(engine.Status())).Msg("Vault restored")
	} else {
		engine, err = vault.New(vaultCfg, now)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create vault")
		}
		log.Info().Uint64("vault_id", engine.ID()).Msg("Fresh vault created")
	}

	// --- 4. Start the web dashboard ---
	webServer := web.NewWebServer(config.WebPort, engine)
	go func() {
		log.Info().Str("port", config.WebPort).Msg("Starting CVM web dashboard")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 5. Service loop ---
	feed := pricing.NewFeedClient(config.OracleEndpoint)
	log.Info().Str("interval", LOOP_INTERVAL.String()).Msg("Starting CVM service loop")

	ticker := time.NewTicker(LOOP_INTERVAL)
	defer ticker.Stop()
	for {
		runCycle(engine, gate, book, feed)
		<-ticker.C
	}
}

// runCycle performs one housekeeping pass: refresh prices, execute queued
// requests, publish metrics and persist state. Any single failure is logged
// and skipped; the engine's own guards decide what is safe.
func runCycle(engine *vault.Vault, gate *access.Gate, book *pricing.PriceBook, feed *pricing.FeedClient) {
	now := time.Now().UTC()

	for _, entry := range book.Entries() {
		reading, err := feed.FetchReading(entry.Asset)
		if err != nil {
			metrics.FeedErrors.Inc()
			log.Error().Err(err).Str("asset", entry.Asset).Msg("Feed fetch failed")
			continue
		}
		if err := engine.UpdatePrice(reading); err != nil {
			log.Error().Err(err).Str("asset", entry.Asset).Msg("Price update rejected")
		}
	}

	// Mark-to-market and request execution only run in NORMAL; mid-operation
	// the engine would reject every call anyway, so skip the noise.
	if engine.OpRecord() == nil {
		if err := engine.RefreshValuations(config.OperatorCapID, now); err != nil {
			log.Error().Err(err).Msg("Valuation refresh failed")
		}
		for _, req := range engine.PendingDepositRequests() {
			if _, err := engine.ExecuteDeposit(config.OperatorCapID, req.ID, now); err != nil {
				logExecution(err, "deposit", req.Owner)
			}
		}
		for _, req := range engine.PendingWithdrawRequests() {
			if _, err := engine.ExecuteWithdraw(config.OperatorCapID, req.ID, now); err != nil {
				logExecution(err, "withdrawal", req.Owner)
			}
		}
	}

	metrics.Publish(engine, now)
	persist(engine, gate, book, now)
}

// logExecution separates requests that legitimately cannot execute yet from
// real faults.
func logExecution(err error, kind, owner string) {
	if errors.Is(err, vault.ErrInsufficientLiquidity) || errors.Is(err, vault.ErrSlippageViolated) || errors.Is(err, vault.ErrNotNormal) {
		log.Debug().Err(err).Str("owner", owner).Msgf("Queued %s not executable this cycle", kind)
		return
	}
	log.Error().Err(err).Str("owner", owner).Msgf("Failed to execute %s", kind)
}

func persist(engine *vault.Vault, gate *access.Gate, book *pricing.PriceBook, now time.Time) {
	if _, err := state.SaveVaultSnapshot(engine.Snapshot(now)); err != nil {
		log.Error().Err(err).Msg("Failed to save vault snapshot")
	}
	if err := state.SaveReceipts(engine.Receipts()); err != nil {
		log.Error().Err(err).Msg("Failed to save receipts")
	}
	if err := state.SaveRequestQueues(engine.PendingDepositRequests(), engine.PendingWithdrawRequests()); err != nil {
		log.Error().Err(err).Msg("Failed to save request queues")
	}
	if err := state.SavePriceEntries(book.Entries()); err != nil {
		log.Error().Err(err).Msg("Failed to save price entries")
	}
	if err := state.SaveCapabilities(gate.Capabilities()); err != nil {
		log.Error().Err(err).Msg("Failed to save capabilities")
	}
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}
