// Package main provides the entry point for the SSH transport daemon.
// The daemon accepts TCP connections and runs the SSH-2 transport layer
// (identification exchange, key exchange, packet framing, rekeying) over
// each, handing authenticated traffic to the registered services.
//
// Usage:
//
//	sshd [flags]
//
// Flags:
//
//	-listen string     SSH listen address (default ":22")
//	-software string   Software version advertised in the banner
//	-debug             Enable debug logging
//	-help              Show help message
//
// Key exchange implementations and host key material are supplied by the
// embedding build: link a provider package whose init() calls
// RegisterKeyExchange and RegisterHostKeyAlgorithms. The daemon refuses to
// listen with no key exchange registered.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/go-sshd/go-sshd/lib/factory"
	"github.com/go-sshd/go-sshd/lib/server"
	"github.com/go-sshd/go-sshd/lib/session"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"

	// Build info
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Providers registered by embedding builds.
var (
	kexProviders      []factory.Named[factory.KeyExchange]
	hostKeyAlgorithms []string
	serviceProviders  []session.ServiceFactory
)

// RegisterKeyExchange adds a key exchange factory, in preference order.
// Call from an init() in the provider package.
func RegisterKeyExchange(f factory.Named[factory.KeyExchange]) {
	kexProviders = append(kexProviders, f)
}

// RegisterHostKeyAlgorithms sets the host key algorithm names offered in
// the server-host-key slot.
func RegisterHostKeyAlgorithms(names ...string) {
	hostKeyAlgorithms = append(hostKeyAlgorithms, names...)
}

// RegisterService adds an upper-layer service factory.
func RegisterService(f session.ServiceFactory) {
	serviceProviders = append(serviceProviders, f)
}

// cliConfig holds the daemon configuration from flags and environment.
type cliConfig struct {
	ListenAddr string
	Software   string
	Debug      bool

	AuthTimeoutMs       int64
	IdleTimeoutMs       int64
	DisconnectTimeoutMs int64
	RekeyBytesLimit     int64
	RekeyTimeLimitMs    int64
}

func main() {
	cfg := parseFlags()

	// Configure logging
	log := logrus.New()
	log.SetOutput(os.Stdout)
	if cfg.Debug {
		log.SetLevel(logrus.DebugLevel)
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	} else {
		log.SetLevel(logrus.InfoLevel)
	}

	log.WithFields(logrus.Fields{
		"version":   Version,
		"buildTime": BuildTime,
		"commit":    GitCommit,
	}).Info("Starting SSH transport daemon")

	if len(kexProviders) == 0 {
		log.Error("No key exchange implementations registered")
		log.Info("Link a provider package that calls RegisterKeyExchange from init()")
		os.Exit(1)
	}
	if len(hostKeyAlgorithms) == 0 {
		log.Error("No host key algorithms registered")
		os.Exit(1)
	}

	manager := factory.NewManager(
		factory.WithKeyExchanges(kexProviders...),
		factory.WithSignatureAlgorithms(hostKeyAlgorithms...),
		factory.WithProperty(factory.PropAuthTimeout, fmt.Sprint(cfg.AuthTimeoutMs)),
		factory.WithProperty(factory.PropIdleTimeout, fmt.Sprint(cfg.IdleTimeoutMs)),
		factory.WithProperty(factory.PropDisconnectTimeout, fmt.Sprint(cfg.DisconnectTimeoutMs)),
		factory.WithProperty(factory.PropRekeyBytesLimit, fmt.Sprint(cfg.RekeyBytesLimit)),
		factory.WithProperty(factory.PropRekeyTimeLimit, fmt.Sprint(cfg.RekeyTimeLimitMs)),
	)

	registry := session.NewRegistry()

	serverConfig := server.DefaultConfig()
	serverConfig.ListenAddr = cfg.ListenAddr
	serverConfig.Software = cfg.Software

	srv, err := server.NewServer(serverConfig, manager, registry, serviceProviders, log)
	if err != nil {
		log.WithError(err).Error("Failed to create server")
		os.Exit(1)
	}

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("SSH transport listening")
		if err := srv.ListenAndServe(); err != nil {
			errChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		log.WithField("signal", sig.String()).Info("Received shutdown signal")
	case err := <-errChan:
		log.WithError(err).Error("Server error")
	}

	log.Info("Shutting down...")

	if err := srv.Close(); err != nil {
		log.WithError(err).Warn("Error stopping server")
	}
	if err := registry.Close(); err != nil {
		log.WithError(err).Warn("Error closing sessions")
	}

	log.Info("SSH transport stopped")
}

func parseFlags() *cliConfig {
	cfg := &cliConfig{}

	flag.StringVar(&cfg.ListenAddr, "listen", server.DefaultListenAddr, "SSH listen address")
	flag.StringVar(&cfg.Software, "software", server.DefaultSoftware, "Software version in the banner")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	flag.Int64Var(&cfg.AuthTimeoutMs, "auth-timeout",
		int64(factory.DefaultAuthTimeout.Milliseconds()), "Auth timeout in ms")
	flag.Int64Var(&cfg.IdleTimeoutMs, "idle-timeout",
		int64(factory.DefaultIdleTimeout.Milliseconds()), "Idle timeout in ms")
	flag.Int64Var(&cfg.DisconnectTimeoutMs, "disconnect-timeout",
		int64(factory.DefaultDisconnectTimeout.Milliseconds()), "Disconnect grace in ms")
	flag.Int64Var(&cfg.RekeyBytesLimit, "rekey-bytes-limit",
		factory.DefaultRekeyBytesLimit, "Rekey after this many bytes")
	flag.Int64Var(&cfg.RekeyTimeLimitMs, "rekey-time-limit",
		int64(factory.DefaultRekeyTimeLimit.Milliseconds()), "Rekey after this many ms")

	showVersion := flag.Bool("version", false, "Show version information")
	showHelp := flag.Bool("help", false, "Show help message")

	flag.Parse()

	if *showVersion {
		fmt.Printf("sshd %s\n", Version)
		fmt.Printf("Build time: %s\n", BuildTime)
		fmt.Printf("Git commit: %s\n", GitCommit)
		os.Exit(0)
	}

	if *showHelp {
		fmt.Println("go-sshd - SSH-2 transport daemon")
		fmt.Println()
		fmt.Println("Usage: sshd [flags]")
		fmt.Println()
		fmt.Println("Flags:")
		flag.PrintDefaults()
		fmt.Println()
		fmt.Println("Environment variables:")
		fmt.Println("  SSHD_LISTEN   SSH listen address (overrides -listen)")
		fmt.Println("  SSHD_DEBUG    Enable debug logging (overrides -debug)")
		os.Exit(0)
	}

	// Override with environment variables if set
	if envListen := os.Getenv("SSHD_LISTEN"); envListen != "" {
		cfg.ListenAddr = envListen
	}
	if os.Getenv("SSHD_DEBUG") != "" {
		cfg.Debug = true
	}

	return cfg
}
