// Command server runs the chat relay.
//
// Configuration is read from a TOML file (created with defaults on first
// start), then RELAYCHAT_* environment variables, then the flags below.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aeolun/relaychat/pkg/server"
)

func main() {
	configPath := flag.String("config", "~/.relaychat/server.toml", "Path to the TOML config file")
	host := flag.String("host", "", "Bind host (overrides config)")
	port := flag.Int("port", -1, "Chat port (overrides config, 0 picks a free port)")
	certFile := flag.String("cert", "", "TLS certificate file (overrides config)")
	keyFile := flag.String("key", "", "TLS key file (overrides config)")
	logFile := flag.String("log", "", "Event log file (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging to stderr")
	flag.Parse()

	if *debug {
		server.EnableDebugLogging(os.Stderr)
	}

	tomlConfig, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	config := tomlConfig.ToServerConfig()

	if *host != "" {
		config.Host = *host
	}
	if *port >= 0 {
		config.Port = *port
	}
	if *certFile != "" {
		config.CertFile = *certFile
	}
	if *keyFile != "" {
		config.KeyFile = *keyFile
	}
	if *logFile != "" {
		config.LogFile = *logFile
	}

	srv, err := server.NewServer(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create server: %v\n", err)
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		srv.Stop()
		fmt.Fprintf(os.Stderr, "Failed to start server: %v\n", err)
		os.Exit(1)
	}

	if !config.TLSEnabled() {
		log.Printf("WARNING: TLS is not configured; chat traffic on %s is unencrypted", srv.Addr())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	if err := srv.Stop(); err != nil {
		log.Printf("Shutdown error: %v", err)
		os.Exit(1)
	}
}
