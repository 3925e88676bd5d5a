package network

import (
	"bytes"
	"context"
	"io/ioutil"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
)

type SSHConfig struct {
	User           string
	Port           int
	IdentityFile   string
	KnownHostsFile string
	Timeout        time.Duration
}

// SSH runs commands on bench hosts, keeping one connection per host.
type SSH struct {
	cfg       SSHConfig
	clientCfg *ssh.ClientConfig

	mu      sync.Mutex
	clients map[string]*ssh.Client
}

// CommandError is a remote command that exited with a non-zero status.
type CommandError struct {
	Host       string
	Command    string
	ExitStatus int
	Stderr     string
}

func (e *CommandError) Error() string {
	return "Got an error:\nHost: " + e.Host + "\nCommand: " + e.Command +
		"\nExit status: " + strconv.Itoa(e.ExitStatus) + "\nstderr:\n" + e.Stderr
}

func authMethods(cfg SSHConfig) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if cfg.IdentityFile != "" {
		key, err := ioutil.ReadFile(cfg.IdentityFile)
		if err != nil {
			return nil, errors.Wrap(err, "read identity file")
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, errors.Wrapf(err, "parse identity file %s", cfg.IdentityFile)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		conn, err := net.Dial("unix", sock)
		if err != nil {
			logf.Log.Info("ssh agent is not reachable", "socket", sock, "error", err)
		} else {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}
	if len(methods) == 0 {
		return nil, errors.New("no ssh credentials: set an identity file or run an ssh agent")
	}
	return methods, nil
}

func NewSSH(cfg SSHConfig) (*SSH, error) {
	methods, err := authMethods(cfg)
	if err != nil {
		return nil, err
	}
	hostKeys := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsFile != "" {
		hostKeys, err = knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, errors.Wrap(err, "known hosts")
		}
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	return &SSH{
		cfg: cfg,
		clientCfg: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            methods,
			HostKeyCallback: hostKeys,
			Timeout:         cfg.Timeout,
		},
		clients: map[string]*ssh.Client{},
	}, nil
}

func (s *SSH) client(host string) (*ssh.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[host]; ok {
		return c, nil
	}
	c, err := ssh.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(s.cfg.Port)), s.clientCfg)
	if err != nil {
		return nil, errors.Wrapf(err, "ssh %s@%s", s.cfg.User, host)
	}
	s.clients[host] = c
	return c, nil
}

func (s *SSH) forget(host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[host]; ok {
		_ = c.Close()
		delete(s.clients, host)
	}
}

// Run executes cmd on host and returns its stdout. A non-zero exit status
// is reported as *CommandError carrying stderr.
func (s *SSH) Run(ctx context.Context, host, cmd string) ([]byte, error) {
	c, err := s.client(host)
	if err != nil {
		return nil, err
	}
	sess, err := c.NewSession()
	if err != nil {
		// the cached connection may have gone away with the host
		s.forget(host)
		if c, err = s.client(host); err != nil {
			return nil, err
		}
		if sess, err = c.NewSession(); err != nil {
			return nil, errors.Wrapf(err, "ssh session to %s", host)
		}
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(cmd) }()
	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		return nil, errors.Wrapf(ctx.Err(), "%s: %s", host, cmd)
	case err = <-done:
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), &CommandError{Host: host, Command: cmd, ExitStatus: exitErr.ExitStatus(), Stderr: stderr.String()}
	}
	if err != nil {
		return stdout.Bytes(), errors.Wrapf(err, "%s: %s", host, cmd)
	}
	return stdout.Bytes(), nil
}

func (s *SSH) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	for host, c := range s.clients {
		err = errors.CombineErrors(err, c.Close())
		delete(s.clients, host)
	}
	return err
}
