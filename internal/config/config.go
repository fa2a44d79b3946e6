package config

import (
	"errors"
	"strconv"
	"time"

	"os"

	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// VaultID is the ID of the vault this CVM instance manages.
	VaultID uint64

	// PrincipalDenom is the denom of the vault's deposit asset.
	PrincipalDenom string

	// MaxPriceInterval is the staleness bound on raw oracle readings.
	MaxPriceInterval time.Duration
	// MaxValuationStaleness is the staleness bound on valuation ledger entries.
	MaxValuationStaleness time.Duration

	// LossToleranceBps is the per-epoch loss ceiling in basis points of the
	// epoch baseline.
	LossToleranceBps uint32
	// MaxFeeBps caps the deposit and withdraw fee rates an admin may set.
	MaxFeeBps uint32

	// PoolDeviationBps bounds how far an AMM pool's implied price may drift
	// from the oracle price before a position valuation is rejected.
	PoolDeviationBps uint32

	// OracleEndpoint is the base URL of the external price feed.
	OracleEndpoint string

	// OperatorCapID and AdminCapID identify the capabilities this instance
	// presents when driving request execution and housekeeping.
	OperatorCapID string
	AdminCapID    string

	// WebPort is the port for the read-only dashboard API.
	WebPort string
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// All environment variables without a stated default are required.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	VaultID, err = getEnvAsUint64("CVM_VAULT_ID")
	if err != nil {
		return err
	}

	PrincipalDenom, err = getEnv("CVM_PRINCIPAL_DENOM")
	if err != nil {
		return err
	}

	maxPriceSecs, err := getEnvAsUint64("CVM_MAX_PRICE_INTERVAL_SECONDS")
	if err != nil {
		return err
	}
	MaxPriceInterval = time.Duration(maxPriceSecs) * time.Second

	maxStaleSecs, err := getEnvAsUint64("CVM_MAX_STALENESS_SECONDS")
	if err != nil {
		return err
	}
	MaxValuationStaleness = time.Duration(maxStaleSecs) * time.Second

	LossToleranceBps, err = getEnvAsBps("CVM_LOSS_TOLERANCE_BPS")
	if err != nil {
		return err
	}

	MaxFeeBps, err = getEnvAsBps("CVM_MAX_FEE_BPS")
	if err != nil {
		return err
	}

	PoolDeviationBps, err = getEnvAsBps("CVM_POOL_DEVIATION_BPS")
	if err != nil {
		return err
	}

	OracleEndpoint, err = getEnv("CVM_ORACLE_ENDPOINT")
	if err != nil {
		return err
	}

	OperatorCapID, err = getEnv("CVM_OPERATOR_CAP_ID")
	if err != nil {
		return err
	}

	AdminCapID, err = getEnv("CVM_ADMIN_CAP_ID")
	if err != nil {
		return err
	}

	WebPort = os.Getenv("WEB_PORT")
	if WebPort == "" {
		WebPort = "8080"
	}

	log.Debug().
		Uint64("VaultID", VaultID).
		Str("PrincipalDenom", PrincipalDenom).
		Dur("MaxPriceInterval", MaxPriceInterval).
		Dur("MaxValuationStaleness", MaxValuationStaleness).
		Uint32("LossToleranceBps", LossToleranceBps).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsBps retrieves an environment variable as a basis-points value in [0, 10000].
func getEnvAsBps(key string) (uint32, error) {
	value, err := getEnvAsUint64(key)
	if err != nil {
		return 0, err
	}
	if value > 10000 {
		return 0, errors.New("environment variable " + key + " must not exceed 10000 basis points, got: " + strconv.FormatUint(value, 10))
	}
	return uint32(value), nil
}
