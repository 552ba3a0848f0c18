// Command loadtest connects many chat clients to a relay and has each post
// random lines for a fixed duration, reporting throughput and delivery.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aeolun/relaychat/pkg/client"
	"github.com/aeolun/relaychat/pkg/protocol"
)

const loremIpsum = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat. Duis aute irure dolor in reprehenderit in voluptate velit esse cillum dolore eu fugiat nulla pariatur."

var loremWords = strings.Fields(loremIpsum)

func randomMessage() string {
	n := 3 + rand.Intn(12)
	words := make([]string, n)
	for i := range words {
		words[i] = loremWords[rand.Intn(len(loremWords))]
	}
	return strings.Join(words, " ")
}

// Stats tracks performance metrics
type Stats struct {
	messagesPosted    atomic.Int64
	messagesReceived  atomic.Int64
	noticesReceived   atomic.Int64
	connectionErrors  atomic.Int64
	sendErrors        atomic.Int64
	successfulClients atomic.Int64
}

func (s *Stats) snapshot() (posted, received, notices, connErrors int64) {
	return s.messagesPosted.Load(), s.messagesReceived.Load(), s.noticesReceived.Load(), s.connectionErrors.Load()
}

// lineCounter is the output side of a bot: it counts the lines the relay
// delivers instead of printing them.
type lineCounter struct {
	stats   *Stats
	pending []byte
}

func (lc *lineCounter) Write(p []byte) (int, error) {
	lc.pending = append(lc.pending, p...)
	for {
		i := strings.IndexByte(string(lc.pending), '\n')
		if i < 0 {
			break
		}
		line := string(lc.pending[:i])
		lc.pending = lc.pending[i+1:]

		if protocol.IsNotice(line) {
			lc.stats.noticesReceived.Add(1)
		} else if strings.Contains(line, ": ") {
			lc.stats.messagesReceived.Add(1)
		}
	}
	return len(p), nil
}

// runBot connects one client and posts until duration elapses or ctx ends.
func runBot(ctx context.Context, id int, base client.Config, stats *Stats, duration, minDelay, maxDelay time.Duration) {
	config := base
	config.Nickname = fmt.Sprintf("bot%d", id)

	c, err := client.Dial(ctx, config, debugLogger)
	if err != nil {
		stats.connectionErrors.Add(1)
		return
	}
	stats.successfulClients.Add(1)

	input, feed := io.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx, input, &lineCounter{stats: stats})
		// Unblock any pending post once the client is gone
		input.Close()
	}()

	deadline := time.After(duration)
	for {
		delay := minDelay
		if maxDelay > minDelay {
			delay += time.Duration(rand.Int63n(int64(maxDelay - minDelay)))
		}

		select {
		case <-ctx.Done():
			feed.Close()
			<-done
			return
		case <-deadline:
			// End of input makes the client send /exit and disconnect
			feed.Close()
			<-done
			return
		case <-done:
			stats.sendErrors.Add(1)
			return
		case <-time.After(delay):
			if _, err := io.WriteString(feed, randomMessage()+"\n"); err != nil {
				stats.sendErrors.Add(1)
				<-done
				return
			}
			stats.messagesPosted.Add(1)
		}
	}
}

// rampUp spreads client starts over the first quarter of the test and
// returns that window and the delay between two starts.
func rampUp(duration time.Duration, clients int) (window, stagger time.Duration, err error) {
	if clients < 1 {
		return 0, 0, fmt.Errorf("clients must be at least 1, got %d", clients)
	}
	if duration <= 0 {
		return 0, 0, fmt.Errorf("duration must be positive, got %v", duration)
	}

	window = duration / 4
	stagger = window / time.Duration(clients)
	if stagger < time.Millisecond {
		stagger = time.Millisecond
	}
	return window, stagger, nil
}

var debugLogger *log.Logger

func initLogging() error {
	// Truncate on each run to avoid confusion
	logFile, err := os.OpenFile("loadtest.log", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return fmt.Errorf("failed to create loadtest.log: %w", err)
	}

	debugLogFile, err := os.OpenFile("loadtest_debug.log", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return fmt.Errorf("failed to create loadtest_debug.log: %w", err)
	}

	log.SetOutput(io.MultiWriter(os.Stdout, logFile))
	log.SetFlags(log.LstdFlags)

	debugLogger = log.New(debugLogFile, "", log.LstdFlags|log.Lmicroseconds)

	return nil
}

func main() {
	host := flag.String("host", "localhost", "Server host")
	port := flag.Int("port", 5555, "Server port")
	useTLS := flag.Bool("tls", true, "Connect over TLS")
	numClients := flag.Int("clients", 10, "Number of concurrent clients")
	duration := flag.Duration("duration", 1*time.Minute, "Test duration")
	minDelay := flag.Duration("min-delay", 100*time.Millisecond, "Minimum delay between posts")
	maxDelay := flag.Duration("max-delay", 1*time.Second, "Maximum delay between posts")
	flag.Parse()

	rampUpDuration, staggerDelay, err := rampUp(*duration, *numClients)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	if err := initLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}

	base := client.DefaultConfig()
	base.Host = *host
	base.Port = *port
	base.UseTLS = *useTLS
	base.MaxAttempts = 1

	log.Printf("Starting load test:")
	log.Printf("  Server: %s", base.Addr())
	log.Printf("  Clients: %d", *numClients)
	log.Printf("  Duration: %v", *duration)
	log.Printf("  Ramp-up: %v (%v per client)", rampUpDuration, staggerDelay)
	log.Printf("  Delay: %v - %v", *minDelay, *maxDelay)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats := &Stats{}
	var wg sync.WaitGroup

	// Start stats reporter
	stopStats := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		startTime := time.Now()
		for {
			select {
			case <-ticker.C:
				posted, received, notices, connErrors := stats.snapshot()
				elapsed := time.Since(startTime).Seconds()
				log.Printf("Stats: %d posted (%.1f/s), %d received, %d notices, %d conn errors",
					posted, float64(posted)/elapsed, received, notices, connErrors)
			case <-stopStats:
				return
			}
		}
	}()

	start := time.Now()
spawn:
	for i := 0; i < *numClients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runBot(ctx, id, base, stats, *duration, *minDelay, *maxDelay)
		}(i)

		select {
		case <-ctx.Done():
			log.Printf("Shutdown signal received, stopping test...")
			break spawn
		case <-time.After(staggerDelay):
		}
	}

	wg.Wait()
	close(stopStats)

	posted, received, notices, connErrors := stats.snapshot()
	elapsed := time.Since(start)
	log.Printf("")
	log.Printf("Results after %v:", elapsed.Round(time.Second))
	log.Printf("  Clients connected: %d / %d (%d connection errors)", stats.successfulClients.Load(), *numClients, connErrors)
	log.Printf("  Messages posted: %d (%.1f/s), send errors: %d", posted, float64(posted)/elapsed.Seconds(), stats.sendErrors.Load())
	log.Printf("  Messages received: %d, notices received: %d", received, notices)

	// With everyone online the whole time each post reaches clients-1 peers;
	// ramp-up and ramp-down make the real figure lower.
	if peers := stats.successfulClients.Load() - 1; posted > 0 && peers > 0 {
		log.Printf("  Delivery ratio: %.1f%% of the all-online maximum", float64(received)/float64(posted*peers)*100)
	}
}
