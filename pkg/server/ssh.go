package server

import (
	"bufio"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/aeolun/relaychat/pkg/protocol"
	"golang.org/x/crypto/ssh"
)

// startSSHServer serves the chat over SSH session channels when ssh_port is set.
func (s *Server) startSSHServer() error {
	if s.config.SSHPort <= 0 {
		debugLog.Printf("SSH server disabled (ssh_port=%d)", s.config.SSHPort)
		return nil
	}

	hostKey, err := hostSigner(s.config.SSHHostKeyPath)
	if err != nil {
		return err
	}

	// The nickname handshake happens inside the channel, like every other
	// transport, so SSH-level authentication is not used.
	config := &ssh.ServerConfig{
		NoClientAuth:  true,
		ServerVersion: "SSH-2.0-RelayChat",
	}
	config.AddHostKey(hostKey)
	s.sshConfig = config

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.SSHPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.sshListener = listener

	log.Printf("SSH server listening on %s", listener.Addr())

	s.wg.Add(1)
	go s.acceptSSHLoop(listener)

	return nil
}

// acceptSSHLoop hands each TCP connection to its own SSH handshake goroutine.
func (s *Server) acceptSSHLoop(listener net.Listener) {
	defer s.wg.Done()
	defer listener.Close()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.isShuttingDown() || errors.Is(err, net.ErrClosed) {
				return
			}
			errorLog.Printf("SSH accept error: %v", err)
			continue
		}

		s.wg.Add(1)
		go s.handleSSHConnection(conn)
	}
}

// handleSSHConnection performs the SSH handshake and serves every session
// channel the client opens as a separate chat connection.
func (s *Server) handleSSHConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	// ssh.NewServerConn has no context; a deadline bounds the handshake instead.
	if s.config.HandshakeTimeout > 0 {
		conn.SetDeadline(time.Now().Add(s.config.HandshakeTimeout))
	}
	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.sshConfig)
	if err != nil {
		s.logEvent("SSH handshake with %s failed: %v", conn.RemoteAddr(), err)
		return
	}
	conn.SetDeadline(time.Time{})
	defer sshConn.Close()

	// Closing the server closes the TCP connection, which ends the channel loop.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-s.shutdown:
			sshConn.Close()
		case <-stop:
		}
	}()

	// Discard global out-of-band requests
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			errorLog.Printf("Could not accept SSH channel: %v", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			go handleSSHChannelRequests(requests)
			s.serveStream(newSSHStream(channel, sshConn.RemoteAddr()), TransportSSH)
		}()
	}
}

// handleSSHChannelRequests accepts the requests interactive clients send
// before starting a shell and refuses everything else.
func handleSSHChannelRequests(requests <-chan *ssh.Request) {
	for req := range requests {
		switch req.Type {
		case "shell", "pty-req", "env", "window-change":
			if req.WantReply {
				req.Reply(true, nil)
			}
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// sshStream frames lines over an SSH session channel. Channels have no
// deadlines, so sshStream does not implement deadliner.
type sshStream struct {
	channel    ssh.Channel
	reader     *bufio.Reader
	remoteAddr net.Addr
}

func newSSHStream(channel ssh.Channel, remoteAddr net.Addr) *sshStream {
	return &sshStream{
		channel:    channel,
		reader:     bufio.NewReader(channel),
		remoteAddr: remoteAddr,
	}
}

func (ss *sshStream) ReadLine() (string, error) {
	return protocol.ReadLine(ss.reader)
}

func (ss *sshStream) WriteLine(line string) error {
	return protocol.WriteLine(ss.channel, line)
}

func (ss *sshStream) Close() error {
	return ss.channel.Close()
}

func (ss *sshStream) RemoteAddr() string {
	return ss.remoteAddr.String()
}

// hostKeyBits is the RSA size used for a freshly generated host key.
const hostKeyBits = 2048

// hostSigner returns the SSH host key at path, creating one on first start so
// clients see the same fingerprint across restarts.
func hostSigner(path string) (ssh.Signer, error) {
	keyPath, err := expandHome(path)
	if err != nil {
		return nil, err
	}

	pemBytes, err := os.ReadFile(keyPath)
	switch {
	case err == nil:
		signer, err := ssh.ParsePrivateKey(pemBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse host key %s: %w", keyPath, err)
		}
		debugLog.Printf("Loaded SSH host key from %s", keyPath)
		return signer, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("failed to read host key: %w", err)
	}

	key, err := rsa.GenerateKey(rand.Reader, hostKeyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate host key: %w", err)
	}
	encoded := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create host key directory: %w", err)
	}
	if err := os.WriteFile(keyPath, encoded, 0600); err != nil {
		return nil, fmt.Errorf("failed to write host key: %w", err)
	}
	log.Printf("Generated SSH host key at %s", keyPath)

	return ssh.NewSignerFromKey(key)
}
