// Command dcad is the daemon entry point for the DCA engine. It loads
// configuration, validates it, wires dependencies, sets up signal handling, and
// starts the application in the configured mode. It also issues subscription
// permits and encrypts keeper keys for operators.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dcaengine/internal/app"
	"github.com/alanyoungcy/dcaengine/internal/config"
	"github.com/alanyoungcy/dcaengine/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	signPermit := flag.String("sign-permit", "", "print a subscription permit for this address and exit")
	permitTTL := flag.Duration("permit-ttl", 30*24*time.Hour, "validity of a permit issued with -sign-permit")
	encryptKey := flag.String("encrypt-key", "", "write the wallet private key, encrypted with DCAD_WALLET_KEY_PASSWORD, to this path and exit")
	flag.Parse()

	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// Operator utilities need no running engine.
	switch {
	case *signPermit != "":
		if err := issuePermit(cfg, *signPermit, *permitTTL); err != nil {
			fmt.Fprintf(os.Stderr, "sign-permit: %v\n", err)
			os.Exit(1)
		}
		return
	case *encryptKey != "":
		if err := writeKeyFile(cfg, *encryptKey); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt-key: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Set log level from config.
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("dcad starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	// Create the application.
	application := app.New(cfg, logger)
	defer application.Close()

	// Setup signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Run the application.
	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}

	logger.Info("dcad stopped")
}

func issuePermit(cfg *config.Config, subscriber string, ttl time.Duration) error {
	if !common.IsHexAddress(subscriber) {
		return fmt.Errorf("%q is not a hex address", subscriber)
	}
	if cfg.Permit.AuthorityKey == "" {
		return errors.New("permit.authority_key is not set")
	}
	signer, err := crypto.NewSigner(cfg.Permit.AuthorityKey, cfg.Permit.ChainID)
	if err != nil {
		return err
	}
	if cfg.Permit.Authority != "" && common.HexToAddress(cfg.Permit.Authority) != signer.Address() {
		return fmt.Errorf("authority_key signs as %s, configured authority is %s", signer.Address().Hex(), cfg.Permit.Authority)
	}
	permit, err := signer.SignPermit(common.HexToAddress(subscriber), time.Now().Add(ttl))
	if err != nil {
		return err
	}
	fmt.Println(crypto.EncodePermit(permit))
	return nil
}

func writeKeyFile(cfg *config.Config, path string) error {
	data, err := crypto.EncryptKey(cfg.Wallet.PrivateKey, cfg.Wallet.KeyPassword)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
