package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/0xProject/0x-coordinator-server/params"
	"github.com/0xProject/0x-coordinator-server/pkg/api"
	"github.com/0xProject/0x-coordinator-server/pkg/chain"
	"github.com/0xProject/0x-coordinator-server/pkg/coordinator"
	"github.com/0xProject/0x-coordinator-server/pkg/crypto"
	"github.com/0xProject/0x-coordinator-server/pkg/metrics"
	"github.com/0xProject/0x-coordinator-server/pkg/storage"
	"github.com/0xProject/0x-coordinator-server/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("") // "" means load from .env in current directory
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	// Setup logging (teed to a file when LOG_FILE is set)
	var logger *zap.Logger
	if cfg.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.LogFile)
	} else {
		logger, err = util.NewLogger()
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.LogFile)

	// ---- Storage ----
	store, err := storage.NewPebbleStore(cfg.DatabasePath, util.RealClock{})
	if err != nil {
		sugar.Fatalw("storage_init_failed", "path", cfg.DatabasePath, "err", err)
	}
	defer store.Close()
	sugar.Infow("storage_opened", "path", cfg.DatabasePath)

	// ---- Chain registry ----
	// Each configured chain gets its fee-recipient keyring plus an order-state
	// oracle and signature verifier. Chains without an RPC endpoint run with
	// local-only verification and unconstrained fill allocation.
	registry := coordinator.NewRegistry()
	for chainID, settings := range cfg.Chains {
		addresses, err := settings.Addresses(chainID)
		if err != nil {
			sugar.Fatalw("chain_addresses_missing", "chain_id", chainID, "err", err)
		}

		keyring := coordinator.NewKeyring()
		for _, recipient := range settings.FeeRecipients {
			signer, err := crypto.FromPrivateKeyHex(recipient.PrivateKey)
			if err != nil {
				sugar.Fatalw("fee_recipient_key_invalid", "chain_id", chainID, "address", recipient.Address.Hex(), "err", err)
			}
			keyring.Add(signer)
		}

		bundle := &coordinator.ChainBundle{
			ChainID:   chainID,
			Addresses: addresses,
			Keyring:   keyring,
		}
		if settings.RPCURL == "" {
			bundle.Oracle = chain.UnconstrainedOracle{}
			bundle.Verifier = chain.LocalVerifier{}
			sugar.Infow("chain_registered_offline", "chain_id", chainID, "fee_recipients", keyring.Len())
		} else {
			client, err := chain.Dial(settings.RPCURL, addresses, logger)
			if err != nil {
				sugar.Fatalw("rpc_dial_failed", "chain_id", chainID, "rpc_url", settings.RPCURL, "err", err)
			}
			bundle.Oracle = client
			bundle.Verifier = client
			sugar.Infow("chain_registered", "chain_id", chainID, "rpc_url", settings.RPCURL, "fee_recipients", keyring.Len())
		}
		registry.Register(bundle)
	}

	// ---- Event hub + metrics ----
	m := metrics.New()
	hub := api.NewHub(logger, m)
	go hub.Run()

	// ---- Approver ----
	approver, err := coordinator.NewApprover(registry, store, hub, util.RealClock{}, logger, coordinator.Options{
		SelectiveDelay:         cfg.SelectiveDelay,
		ExpirationDuration:     cfg.ExpirationDuration,
		TakerContractWhitelist: cfg.TakerContractWhitelist,
	})
	if err != nil {
		sugar.Fatalw("approver_init_failed", "err", err)
	}

	// ---- HTTP/WebSocket server ----
	server := api.NewServer(approver, hub, m, logger, api.Options{AllowedOrigins: cfg.AllowedOrigins})
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: server.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		sugar.Infow("http_server_starting",
			"addr", httpServer.Addr,
			"chains", registry.ChainIDs(),
			"selective_delay_ms", cfg.SelectiveDelay.Milliseconds(),
			"approval_expiration_s", int64(cfg.ExpirationDuration.Seconds()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalw("http_server_failed", "err", err)
		}
	}()

	<-ctx.Done()
	sugar.Info("shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("http_shutdown_failed", "err", err)
	}
}
