// Package cli provides the command-line interface and HTTP server for the
// Aleph marketplace control plane. It owns the application lifecycle:
// configuration loading, service construction, route registration, and
// graceful shutdown.
//
// Startup sequence:
//  1. Load configuration (file, environment, flags)
//  2. Load the application catalog and deployment snapshot
//  3. Load the marketplace SSH deploy key pair
//  4. Construct the network adapter, auth service, and orchestrator
//  5. Start the Echo HTTP server and wait for SIGINT/SIGTERM
//
// Configuration precedence (highest to lowest): command-line flags,
// environment variables with the MARKETPLACE_ prefix, the configuration
// file, built-in defaults.
package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"marketplace.aleph.sh/aleph"
	"marketplace.aleph.sh/api"
	"marketplace.aleph.sh/auth"
	"marketplace.aleph.sh/catalog"
	"marketplace.aleph.sh/config"
	"marketplace.aleph.sh/orchestrator"
	"marketplace.aleph.sh/sshexec"
	"marketplace.aleph.sh/store"
	"marketplace.aleph.sh/version"
)

var (
	cfgFile      string
	flagPort     int
	flagKeyPath  string
	flagSnapshot string
	flagDomain   string
	flagInternal bool
)

// RootCmd is the entry point for the marketplace server.
var RootCmd = &cobra.Command{
	Use:   "marketplaced",
	Short: "one-click deployment control plane for the Aleph network",
	Long: `Aleph Marketplace Server

Deploys containerized applications from a curated catalog onto
Aleph compute instances over SSH, publishes them behind a Caddy
reverse proxy, and tracks every deployment in a durable store.

Users authenticate with an Ethereum wallet signature; the server
never holds private keys and revokes its own SSH access from the
target VM once a deployment finishes.`,
	RunE: runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print build information",
	Run: func(cmd *cobra.Command, args []string) {
		info := version.Get()
		fmt.Printf("marketplaced %s (%s", info.Version, info.GoVersion)
		if info.Commit != "" {
			fmt.Printf(", %s", info.Commit)
		}
		fmt.Println(")")
	},
}

func init() {
	RootCmd.AddCommand(versionCmd)
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches for marketplace.yaml)")
	RootCmd.PersistentFlags().IntVar(&flagPort, "port", 0, "HTTP listen port")
	RootCmd.PersistentFlags().StringVar(&flagKeyPath, "ssh-key", "", "path to the marketplace SSH private key")
	RootCmd.PersistentFlags().StringVar(&flagSnapshot, "snapshot", "", "path to the deployment snapshot file")
	RootCmd.PersistentFlags().StringVar(&flagDomain, "base-domain", "", "base domain for published apps")
	RootCmd.PersistentFlags().BoolVar(&flagInternal, "allow-internal", false, "allow deployments to private and loopback addresses")
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	// flags override file and environment
	if flagPort != 0 {
		cfg.Server.Port = flagPort
	}
	if flagKeyPath != "" {
		cfg.SSH.PrivateKeyPath = flagKeyPath
	}
	if flagSnapshot != "" {
		cfg.Store.SnapshotPath = flagSnapshot
	}
	if flagDomain != "" {
		cfg.Marketplace.BaseDomain = flagDomain
	}
	if flagInternal {
		cfg.SSH.AllowInternal = true
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config) {
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logrus.SetLevel(level)
	}
	if cfg.Logging.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	cat, err := catalog.Load(cfg.Marketplace.CatalogPath)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}

	signer, err := sshexec.LoadSigner(cfg.SSH.PrivateKeyPath)
	if err != nil {
		return fmt.Errorf("loading deploy key: %w", err)
	}
	pubKey, err := os.ReadFile(cfg.PublicKeyPath())
	if err != nil {
		return fmt.Errorf("loading deploy public key: %w", err)
	}
	deployPublicKey := strings.TrimSpace(string(pubKey))

	deployments := store.Open(cfg.Store.SnapshotPath)
	network := aleph.New(aleph.Config{
		APIURL:       cfg.Aleph.APIURL,
		SchedulerURL: cfg.Aleph.SchedulerURL,
		GatewayURL:   cfg.Aleph.GatewayURL,
	})

	orch := orchestrator.New(orchestrator.Config{
		Store:   deployments,
		Catalog: cat,
		Gateway: network,
		NewExecutor: func(host string, port int, user string) (orchestrator.Executor, error) {
			return sshexec.New(host, port, user, signer), nil
		},
		DeployPublicKey:  deployPublicKey,
		BaseDomain:       cfg.Marketplace.BaseDomain,
		AllowInternalSSH: cfg.SSH.AllowInternal,
	})

	handlers := &api.Handlers{
		Auth:            auth.NewService(),
		Catalog:         cat,
		Network:         network,
		Orchestrator:    orch,
		DeployPublicKey: deployPublicKey,
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.Server.AllowedOrigins,
	}))
	e.Use(middleware.BodyLimit("1M"))

	api.SetupRoutes(e, handlers)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		logrus.WithField("addr", addr).Info("server starting")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logrus.Info("shutting down")
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("shutdown did not complete cleanly")
	}
	// let in-flight deployments finish writing their final state
	orch.Wait()
	return nil
}
