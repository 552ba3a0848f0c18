// Command client connects to a chat relay and relays lines between the
// terminal and the room.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aeolun/relaychat/pkg/client"
)

func main() {
	defaults := client.DefaultConfig()

	host := flag.String("host", defaults.Host, "Server host")
	port := flag.Int("port", defaults.Port, "Server port")
	nickname := flag.String("nick", "", "Nickname (prompted when empty)")
	useTLS := flag.Bool("tls", defaults.UseTLS, "Connect over TLS")
	insecure := flag.Bool("insecure", defaults.InsecureSkipVerify, "Skip TLS certificate verification")
	retries := flag.Int("retries", defaults.MaxAttempts, "Connection attempts before giving up")
	retryDelay := flag.Duration("retry-delay", defaults.RetryDelay, "Delay between connection attempts")
	debugLog := flag.String("debug-log", "", "Write connection diagnostics to this file")
	flag.Parse()

	stdin := bufio.NewReader(os.Stdin)

	if *nickname == "" {
		fmt.Print("Enter your nickname: ")
		line, err := stdin.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			fmt.Fprintf(os.Stderr, "Failed to read nickname: %v\n", err)
			os.Exit(1)
		}
		*nickname = strings.TrimSpace(line)
	}

	config := defaults
	config.Host = *host
	config.Port = *port
	config.Nickname = *nickname
	config.UseTLS = *useTLS
	config.InsecureSkipVerify = *insecure
	config.MaxAttempts = *retries
	config.RetryDelay = *retryDelay

	if err := config.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid settings: %v\n", err)
		os.Exit(1)
	}

	// Connection progress goes to stderr so stdout only carries chat lines
	logger := log.New(os.Stderr, "", 0)
	if *debugLog != "" {
		f, err := os.OpenFile(*debugLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open debug log: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logger = log.New(io.MultiWriter(os.Stderr, f), "", log.LstdFlags)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := client.Dial(ctx, config, logger)
	if err != nil {
		logger.Printf("%v. Giving up.", err)
		os.Exit(1)
	}

	if err := c.Run(ctx, stdin, os.Stdout); err != nil {
		logger.Printf("Client error: %v", err)
		os.Exit(1)
	}
}
