package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/rawblock/payjoin-receiver/internal/persist"
	"github.com/rawblock/payjoin-receiver/internal/walletrpc"
)

// requireEnv reads a required environment variable and exits if it is not
// set, mirroring cmd/engine's fail-fast stance on missing credentials.
func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: Required environment variable %s is not set.", key)
	}
	return val
}

// getEnvOrDefault returns the env var value or a safe default for non-secret
// settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// sessionTTL is how long a freshly enrolled session stays valid before its
// long-poll loop gives up (spec §4.5 "Expiry").
const sessionTTL = 48 * time.Hour

func networkParams() *chaincfg.Params {
	switch getEnvOrDefault("BTC_NETWORK", "mainnet") {
	case "testnet3", "testnet":
		return &chaincfg.TestNet3Params
	case "regtest":
		return &chaincfg.RegressionNetParams
	case "signet":
		return &chaincfg.SigNetParams
	default:
		return &chaincfg.MainNetParams
	}
}

func connectWallet() *walletrpc.Client {
	cfg := walletrpc.Config{
		Host:   getEnvOrDefault("BTC_RPC_HOST", "localhost:8332"),
		User:   requireEnv("BTC_RPC_USER"),
		Pass:   requireEnv("BTC_RPC_PASS"),
		Params: networkParams(),
	}
	client, err := walletrpc.Connect(cfg)
	if err != nil {
		log.Fatalf("FATAL: connecting to wallet RPC: %v", err)
	}
	return client
}

// openPersister opens a Postgres-backed persister if DATABASE_URL is set,
// falling back to the file backend rooted at PAYJOIN_STATE_DIR otherwise
// (spec §4.8 "file" backing option).
func openPersister() persist.Persister {
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pg, err := persist.ConnectPostgres(context.Background(), dbURL)
		if err != nil {
			log.Fatalf("FATAL: connecting to persister database: %v", err)
		}
		if err := pg.InitSchema(context.Background()); err != nil {
			log.Fatalf("FATAL: initializing persister schema: %v", err)
		}
		return pg
	}

	dir := getEnvOrDefault("PAYJOIN_STATE_DIR", "./payjoin-state")
	fp, err := persist.NewFilePersister(dir)
	if err != nil {
		log.Fatalf("FATAL: opening file persister at %s: %v", dir, err)
	}
	return fp
}

func directoryURL() string { return requireEnv("PAYJOIN_DIRECTORY_URL") }
func relayURL() string     { return requireEnv("PAYJOIN_RELAY_URL") }
func ohttpProxy() string   { return getEnvOrDefault("PAYJOIN_OHTTP_PROXY", "") }
