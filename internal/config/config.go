// Package config loads the indexer configuration from the environment and
// carries the per-chain router deployments.
package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/paybeaver/beaver-indexer/internal/chains"
)

// ChainConfig describes one router deployment the indexer follows.
type ChainConfig struct {
	Chain         chains.Chain
	RouterAddress string
	RPCURL        string
	// MinBlock is a lower bound on the scan cursor: blocks before the router
	// deployment are never scanned, whatever the stored cursor says.
	MinBlock uint64
	// PriorityFeeWei, when non-nil, is used as the tip instead of asking the
	// node for eth_maxPriorityFeePerGas. Some RPC providers do not support
	// the call.
	PriorityFeeWei *big.Int
	// NeedsPOAMiddleware marks proof-of-authority chains. The Go client
	// tolerates oversized extraData headers as-is, so the flag is accepted
	// for config compatibility and carried for operators.
	NeedsPOAMiddleware bool
}

// Config is the full runtime configuration of the service.
type Config struct {
	Stage               string
	ListenAddr          string
	DatabaseURL         string
	InitiatorPrivateKey string
	PinataAPIKey        string
	PinataBaseURL       string
	Chains              []ChainConfig
}

// DefaultChainConfigs lists the known router deployments. RPC endpoints can
// be overridden per chain with RPC_URL_<CHAIN> (dashes as underscores).
var DefaultChainConfigs = []ChainConfig{
	{
		Chain:         chains.Sepolia,
		RouterAddress: "0x249b13D5d31cdF4a6EB536F1B94B497dF9238f2d",
		RPCURL:        "https://eth-sepolia-public.unifra.io",
		MinBlock:      4455613,
	},
	{
		Chain:              chains.Mumbai,
		RouterAddress:      "0x9f86fAb93F14B98EFe68786606CcF4113C7c1A0b",
		RPCURL:             "https://rpc.ankr.com/polygon_mumbai",
		MinBlock:           41008770,
		PriorityFeeWei:     big.NewInt(2_000_000_000), // ankr rejects eth_maxPriorityFeePerGas
		NeedsPOAMiddleware: true,
	},
}

const defaultPinataBaseURL = "https://gateway.pinata.cloud/ipfs"

// Load reads the configuration from the environment. A .env file is loaded
// first when present, matching local development setups.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		// Missing .env is the normal case outside local development.
		fmt.Fprintf(os.Stderr, "warning: error loading .env file: %v\n", err)
	}

	cfg := &Config{
		Stage:               getEnv("STAGE", "local"),
		ListenAddr:          getEnv("LISTEN_ADDR", ":8080"),
		InitiatorPrivateKey: os.Getenv("INITIATOR_PRIVATE_KEY"),
		PinataAPIKey:        os.Getenv("PINATA_API_KEY"),
		PinataBaseURL:       getEnv("PINATA_BASE_URL", defaultPinataBaseURL),
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		name := os.Getenv("DB_NAME")
		user := os.Getenv("DB_USER")
		host := os.Getenv("DB_HOST")
		password := os.Getenv("DB_PASSWORD")
		port := getEnv("DB_PORT", "5432")
		if name == "" || user == "" || host == "" {
			return nil, fmt.Errorf("either DATABASE_URL or DB_NAME/DB_USER/DB_HOST must be set")
		}
		dbURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, password, host, port, name)
	}
	cfg.DatabaseURL = dbURL

	if cfg.InitiatorPrivateKey == "" {
		return nil, fmt.Errorf("INITIATOR_PRIVATE_KEY must be set")
	}

	for _, cc := range DefaultChainConfigs {
		if rpc := os.Getenv(rpcEnvKey(cc.Chain)); rpc != "" {
			cc.RPCURL = rpc
		}
		cfg.Chains = append(cfg.Chains, cc)
	}

	return cfg, nil
}

func rpcEnvKey(chain chains.Chain) string {
	return "RPC_URL_" + strings.ToUpper(strings.ReplaceAll(chain.String(), "-", "_"))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
