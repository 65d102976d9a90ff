package config

import "time"

// Default constants for application configuration
const (
	DefaultLogLevel          = "info"
	DefaultJSONLog           = false
	DefaultHTTPTimeout       = 30 * time.Second
	DefaultRateLimitRPS      = 2.0
	DefaultRateLimitBurst    = 2
	DefaultRequestLimit      = 35
	DefaultMaxSecondaryPages = 6
	DefaultMaxPageHops       = 5
	DefaultPageDelay         = 250 * time.Millisecond
	DefaultDetailWorkers     = 2
	DefaultMaxDetailWorkers  = 8
	DefaultTripReserve       = 3
	DefaultSessionTTL        = 48 * time.Hour
	DefaultDBFile            = ".hnsync/hnsync.db"
	DefaultSecretStore       = SecretStoreSQLite
	DefaultRouteCacheSize    = 1024
	DefaultServerAddr        = "127.0.0.1:8080"
	DefaultMPG               = 25.0
	DefaultGasPrice          = 3.50
	DefaultInstallPay        = 100.0
	DefaultRepairPay         = 60.0
	DefaultUpgradePay        = 80.0
	DefaultPoleCharge        = 25.0
	DefaultPoleCost          = 10.0
	DefaultConcreteCost      = 5.0
)

// Secret store backends
const (
	SecretStoreSQLite  = "sqlite"
	SecretStoreKeyring = "keyring"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "HNSYNC_"
