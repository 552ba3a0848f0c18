package server

import (
	"io"
	"log"
	"os"
	"testing"
)

// TestMain sets up package-level test state once before any test runs.
// Handler goroutines from one test may still be logging while the next test
// starts, so no test modifies these afterwards.
func TestMain(m *testing.M) {
	errorLog = log.New(io.Discard, "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
	eventEcho = io.Discard
	log.SetOutput(io.Discard)

	os.Exit(m.Run())
}
