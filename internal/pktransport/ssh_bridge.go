package pktransport

import (
	"fmt"
	"io"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHBridge dials a remote bench rig over SSH and runs the given
// remote command (typically a device-role process reading/writing PK
// frames on its own stdio), treating the session's Stdin/Stdout as the
// framed byte channel. It lets integration tests and `pkbench --remote`
// exercise the engine against a physically separate device process
// over a network link instead of only an in-process pipe.
type SSHBridge struct {
	Host                        string
	Port                        string
	User                        string
	KeyPath                     string
	Passphrase                  []byte
	KnownHostsPath              string
	InsecureSkipHostKeyChecking bool
	Timeout                     time.Duration

	// Backoff governs retry delay across dial attempts; the zero value
	// falls back to DefaultBackoffConfig. MaxAttempts caps how many
	// connection attempts Dial makes in total before giving up; 0 (or
	// less) means a single attempt with no retry, matching a caller
	// that never opted in to reconnecting.
	Backoff     BackoffConfig
	MaxAttempts int
	Rand        *rand.Rand

	client  *ssh.Client
	session *ssh.Session
}

// Dial connects, starts remoteCmd, and wraps the resulting session
// stdio in a FramedPort. A bench rig's TCP listener can be slow to
// come up or momentarily refuse connections (a reboot mid-bench-run,
// sshd restarting); Dial retries the connect-and-start sequence with
// BackoffConfig/NextDelay between attempts rather than failing on the
// first transient error.
func (b *SSHBridge) Dial(remoteCmd string) (*FramedPort, error) {
	attempts := b.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	cfg := b.Backoff
	if cfg == (BackoffConfig{}) {
		cfg = DefaultBackoffConfig()
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			time.Sleep(NextDelay(cfg, attempt-1, b.Rand))
		}
		port, err := b.dialOnce(remoteCmd)
		if err == nil {
			return port, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("pktransport: ssh dial failed after %d attempt(s): %w", attempts, lastErr)
}

func (b *SSHBridge) dialOnce(remoteCmd string) (*FramedPort, error) {
	client, err := b.dialClient()
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("pktransport: ssh session: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("pktransport: ssh stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("pktransport: ssh stdout pipe: %w", err)
	}
	if err := session.Start(remoteCmd); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("pktransport: ssh start %q: %w", remoteCmd, err)
	}

	b.client = client
	b.session = session
	return NewFramedPort(&sessionRWC{r: stdout, w: stdin, session: session, client: client}), nil
}

func (b *SSHBridge) dialClient() (*ssh.Client, error) {
	address, err := b.address()
	if err != nil {
		return nil, err
	}
	config, err := b.clientConfig()
	if err != nil {
		return nil, err
	}
	if b.Timeout <= 0 {
		return ssh.Dial("tcp", address, config)
	}
	conn, err := net.DialTimeout("tcp", address, b.Timeout)
	if err != nil {
		return nil, err
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(clientConn, chans, reqs), nil
}

func (b *SSHBridge) address() (string, error) {
	host := strings.TrimSpace(b.Host)
	if host == "" {
		return "", fmt.Errorf("pktransport: ssh host is required")
	}
	if b.Port != "" {
		return net.JoinHostPort(host, b.Port), nil
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, nil
	}
	return net.JoinHostPort(host, "22"), nil
}

func (b *SSHBridge) clientConfig() (*ssh.ClientConfig, error) {
	if b.User == "" {
		return nil, fmt.Errorf("pktransport: ssh user is required")
	}
	signer, err := b.signer()
	if err != nil {
		return nil, err
	}

	var hostKeyCallback ssh.HostKeyCallback
	if b.InsecureSkipHostKeyChecking {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		callback, err := b.knownHostsCallback()
		if err != nil {
			return nil, err
		}
		hostKeyCallback = callback
	}

	return &ssh.ClientConfig{
		User:            b.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         b.Timeout,
	}, nil
}

func (b *SSHBridge) signer() (ssh.Signer, error) {
	if b.KeyPath == "" {
		return nil, fmt.Errorf("pktransport: ssh key path is required")
	}
	privateKey, err := os.ReadFile(b.KeyPath)
	if err != nil {
		return nil, err
	}
	if len(b.Passphrase) > 0 {
		return ssh.ParsePrivateKeyWithPassphrase(privateKey, b.Passphrase)
	}
	return ssh.ParsePrivateKey(privateKey)
}

func (b *SSHBridge) knownHostsCallback() (ssh.HostKeyCallback, error) {
	path := strings.TrimSpace(b.KnownHostsPath)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("pktransport: known hosts path not set and home dir unavailable")
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	return knownhosts.New(path)
}

// sessionRWC adapts an ssh.Session's separate stdin/stdout pipes, plus
// the session and client that own them, into one io.ReadWriteCloser.
type sessionRWC struct {
	r       io.Reader
	w       io.Writer
	session *ssh.Session
	client  *ssh.Client
}

func (s *sessionRWC) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s *sessionRWC) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s *sessionRWC) Close() error {
	sErr := s.session.Close()
	cErr := s.client.Close()
	if sErr != nil {
		return sErr
	}
	return cErr
}
