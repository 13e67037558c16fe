package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dragonvault/config"
	"dragonvault/crypto"
	"dragonvault/native/vault"
	"dragonvault/observability"
	"dragonvault/observability/logging"
	"dragonvault/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	metricsAddr := flag.String("metrics", ":9090", "Listen address for the prometheus endpoint")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("DRAGONVAULT_ENV"))
	logger := logging.Setup("vaultd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "vault"))
	if err != nil {
		logger.Error("Failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	engine, err := buildEngine(cfg, db, logger)
	if err != nil {
		logger.Error("Failed to build vault engine", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("vault engine ready",
		slog.String("asset", cfg.AssetDenom),
		slog.String("total_assets", engine.TotalAssets().String()),
	)

	http.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server stopped", slog.Any("error", err))
		}
	}()
	logger.Info("metrics listening", slog.String("addr", *metricsAddr))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")
}

func buildEngine(cfg *config.Config, db storage.Database, logger *slog.Logger) (*vault.Engine, error) {
	store := storage.NewStateStore(db)

	// Persisted accounts key off the vault address, so a restart must come
	// back with the same identity.
	vaultAddr, ok, err := store.VaultAddress()
	if err != nil {
		return nil, err
	}
	if !ok {
		key, err := crypto.GeneratePrivateKey()
		if err != nil {
			return nil, fmt.Errorf("generate vault key: %w", err)
		}
		vaultAddr = key.PubKey().Address()
		if err := store.PutVaultAddress(vaultAddr); err != nil {
			return nil, err
		}
	}

	engine := vault.NewEngine(vaultAddr, cfg.AssetDenom)
	if err := engine.SetState(store); err != nil {
		return nil, fmt.Errorf("load vault state: %w", err)
	}
	engine.SetEmitter(observability.NewRecorder(logger))

	depositLimit, err := config.Amount(cfg.Vault.DepositLimit)
	if err != nil {
		return nil, err
	}
	engine.SetDepositLimit(depositLimit)
	minIdle, err := config.Amount(cfg.Vault.MinimumTotalIdle)
	if err != nil {
		return nil, err
	}
	engine.SetMinimumTotalIdle(minIdle)
	engine.SetMaxQueue(cfg.Vault.MaxQueue)
	engine.SetProfitMaxUnlockTime(cfg.Vault.ProfitMaxUnlockSecs)
	return engine, nil
}
