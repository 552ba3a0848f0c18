// Command certgen writes a self-signed certificate and key for the chat
// server's TLS listener.
//
// Usage:
//
//	certgen -hosts 127.0.0.1,chat.example.com -out ./tls
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aeolun/relaychat/pkg/certs"
)

const (
	certificateFilename = "cert.pem"
	privateKeyFilename  = "key.pem"
)

func main() {
	hosts := flag.String("hosts", "localhost,127.0.0.1", "Comma-separated IP addresses and DNS names")
	outDir := flag.String("out", ".", "Directory to write cert.pem and key.pem into")
	validFor := flag.Duration("valid-for", certs.DefaultValidity, "Certificate lifetime")
	flag.Parse()

	certPEM, keyPEM, err := certs.GenerateSelfSigned(strings.Split(*hosts, ","), *validFor)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error generating certificate: %v\n", err)
		os.Exit(1)
	}

	certPath := filepath.Join(*outDir, certificateFilename)
	keyPath := filepath.Join(*outDir, privateKeyFilename)
	if err := certs.WriteFiles(certPath, keyPath, certPEM, keyPEM); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	fmt.Printf("wrote %s\nwrote %s\n", certPath, keyPath)
	fmt.Printf("\nSet [tls] cert_file and key_file in the server config (or pass -cert/-key) to enable TLS.\n")
}
