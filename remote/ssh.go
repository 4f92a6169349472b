package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultSSHPort is the port DialSSH uses when SSHConfig.Port is zero.
const DefaultSSHPort = 22

// ErrNoHostKeyCheck indicates neither a known_hosts file nor an explicit
// opt-out of host key verification was configured.
var ErrNoHostKeyCheck = errors.New("no known_hosts file configured and host key checking not disabled")

// SSHConfig describes how to reach and authenticate to a remote host.
type SSHConfig struct {
	Host string
	Port uint16
	User string

	// IdentityFile is a private key used in addition to the SSH agent.
	IdentityFile string
	// Passphrase decrypts IdentityFile when it is encrypted.
	Passphrase []byte
	// AgentSocket is the SSH agent socket. Empty uses $SSH_AUTH_SOCK.
	AgentSocket string

	// KnownHostsFile verifies the host key.
	KnownHostsFile string
	// InsecureIgnoreHostKey accepts any host key.
	InsecureIgnoreHostKey bool

	// Timeout bounds the TCP connect and the SSH handshake.
	Timeout time.Duration
}

// Addr returns host:port of the SSH server.
func (c SSHConfig) Addr() string {
	port := c.Port
	if port == 0 {
		port = DefaultSSHPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(int(port)))
}

// SSHSession is an authenticated SSH connection. It opens exec channels for
// port negotiation and tunnels TCP connections to addresses reachable from
// the remote host, so it can serve as the transfer Dialer.
type SSHSession struct {
	client *ssh.Client
	agent  net.Conn
	addr   string
}

// DialSSH connects and authenticates to the host in cfg.
func DialSSH(ctx context.Context, cfg SSHConfig) (*SSHSession, error) {
	addr := cfg.Addr()
	log := logrus.WithFields(logrus.Fields{
		"function": "DialSSH",
		"addr":     addr,
		"user":     cfg.User,
	})

	hostKeys, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}
	auth, agentConn, err := authMethods(cfg)
	if err != nil {
		return nil, err
	}

	clientConfig := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         cfg.Timeout,
	}

	dialer := &net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		closeQuietly(agentConn)
		return nil, fmt.Errorf("ssh dial %s: %w", addr, err)
	}
	if deadline, ok := handshakeDeadline(ctx, cfg.Timeout); ok {
		_ = conn.SetDeadline(deadline)
	}

	log.Debug("Starting SSH handshake")
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		conn.Close()
		closeQuietly(agentConn)
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})
	log.Info("SSH session established")

	return &SSHSession{
		client: ssh.NewClient(sshConn, chans, reqs),
		agent:  agentConn,
		addr:   addr,
	}, nil
}

// NewSSHSession wraps an already established client.
func NewSSHSession(client *ssh.Client) *SSHSession {
	return &SSHSession{client: client, addr: client.RemoteAddr().String()}
}

// OpenExec opens a new exec channel.
func (s *SSHSession) OpenExec() (ExecChannel, error) {
	session, err := s.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("ssh new session on %s: %w", s.addr, err)
	}
	return &sshExec{session: session}, nil
}

// DialContext opens a TCP connection from the remote host to address. The
// connection is carried inside the SSH session.
func (s *SSHSession) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	logrus.WithFields(logrus.Fields{
		"function": "SSHSession.DialContext",
		"via":      s.addr,
		"target":   address,
	}).Debug("Opening tunnelled connection")
	return s.client.DialContext(ctx, network, address)
}

// Close closes the SSH connection and the agent connection, if any.
func (s *SSHSession) Close() error {
	err := s.client.Close()
	closeQuietly(s.agent)
	return err
}

type sshExec struct {
	session *ssh.Session
}

// Run executes cmd and collects standard output. ssh.ExitError carries a
// non-zero exit; ssh.ExitMissingError means no status arrived.
func (e *sshExec) Run(cmd string) (Exit, []byte, error) {
	var stdout bytes.Buffer
	e.session.Stdout = &stdout

	err := e.session.Run(cmd)
	if err == nil {
		return Exit{}, stdout.Bytes(), nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		exit := Exit{
			Status:  uint32(exitErr.ExitStatus()),
			Signal:  exitErr.Signal(),
			Message: exitErr.Msg(),
		}
		return exit, stdout.Bytes(), nil
	}
	return Exit{}, stdout.Bytes(), err
}

func (e *sshExec) Close() error {
	err := e.session.Close()
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func hostKeyCallback(cfg SSHConfig) (ssh.HostKeyCallback, error) {
	if cfg.InsecureIgnoreHostKey {
		logrus.WithFields(logrus.Fields{
			"function": "hostKeyCallback",
			"host":     cfg.Host,
		}).Warn("Host key verification disabled")
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if cfg.KnownHostsFile == "" {
		return nil, ErrNoHostKeyCheck
	}
	cb, err := knownhosts.New(cfg.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("load known hosts: %w", err)
	}
	return cb, nil
}

// authMethods collects agent keys and the identity file. The returned agent
// connection must stay open for the life of the session.
func authMethods(cfg SSHConfig) ([]ssh.AuthMethod, net.Conn, error) {
	var methods []ssh.AuthMethod
	var agentConn net.Conn

	socket := cfg.AgentSocket
	if socket == "" {
		socket = os.Getenv("SSH_AUTH_SOCK")
	}
	if socket != "" {
		conn, err := net.Dial("unix", socket)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "authMethods",
				"socket":   socket,
				"error":    err.Error(),
			}).Debug("SSH agent unavailable")
		} else {
			agentConn = conn
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	if cfg.IdentityFile != "" {
		pem, err := os.ReadFile(cfg.IdentityFile)
		if err != nil {
			closeQuietly(agentConn)
			return nil, nil, fmt.Errorf("read identity file: %w", err)
		}
		var signer ssh.Signer
		if len(cfg.Passphrase) > 0 {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, cfg.Passphrase)
		} else {
			signer, err = ssh.ParsePrivateKey(pem)
		}
		if err != nil {
			closeQuietly(agentConn)
			return nil, nil, fmt.Errorf("parse identity file %s: %w", cfg.IdentityFile, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	return methods, agentConn, nil
}

func handshakeDeadline(ctx context.Context, timeout time.Duration) (time.Time, bool) {
	deadline, ok := ctx.Deadline()
	if timeout > 0 {
		byTimeout := time.Now().Add(timeout)
		if !ok || byTimeout.Before(deadline) {
			return byTimeout, true
		}
	}
	return deadline, ok
}

func closeQuietly(c net.Conn) {
	if c != nil {
		c.Close()
	}
}
