// Package sshexec runs commands on the deployment target over SSH.
// Each command dials its own connection; nothing is cached between
// calls, so a flaky VM only costs the call that hit it.
package sshexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

const (
	// DefaultTimeout applies when the caller passes no timeout.
	DefaultTimeout = 120 * time.Second
	// MaxTimeout caps any single command, image pulls included.
	MaxTimeout = 600 * time.Second

	dialTimeout  = 15 * time.Second
	stdoutTail   = 2000
	stderrTail   = 1000
	appsBaseDir  = "/root/apps"
	timeoutCode  = 124
)

// Result is the outcome of one remote command. Stdout and Stderr hold
// only the trailing bytes of each stream.
type Result struct {
	Code   int    `json:"code"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

type runFunc func(ctx context.Context, cmd string, timeout time.Duration) Result

// Client executes commands on one remote host as one user.
type Client struct {
	host   string
	port   int
	user   string
	config *ssh.ClientConfig

	// run is swapped out in tests
	run runFunc
}

// LoadSigner parses the deployment private key at path.
func LoadSigner(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}

// New builds a client for host:port authenticating as user with the
// given key. Host keys are not verified: the target VM was created
// seconds ago and has no stable identity yet.
func New(host string, port int, user string, signer ssh.Signer) *Client {
	c := &Client{
		host: host,
		port: port,
		user: user,
		config: &ssh.ClientConfig{
			User:            user,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         dialTimeout,
		},
	}
	c.run = c.sshRun
	return c
}

// Addr returns the dial target.
func (c *Client) Addr() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

// TestConnection probes the host with a trivial echo.
func (c *Client) TestConnection(ctx context.Context) bool {
	res := c.run(ctx, "echo connected", dialTimeout)
	return res.Code == 0 && bytes.Contains([]byte(res.Stdout), []byte("connected"))
}

// RunCommand executes cmd. A non-positive timeout falls back to
// DefaultTimeout and anything above MaxTimeout is capped to it;
// shorter explicit timeouts pass through. A timeout yields code 124.
func (c *Client) RunCommand(ctx context.Context, cmd string, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}
	return c.run(ctx, cmd, timeout)
}

func (c *Client) sshRun(ctx context.Context, cmd string, timeout time.Duration) Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := ssh.Dial("tcp", c.Addr(), c.config)
	if err != nil {
		return Result{Code: 1, Stderr: tail("ssh dial: "+err.Error(), stderrTail)}
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return Result{Code: 1, Stderr: tail("ssh session: "+err.Error(), stderrTail)}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	if err := session.Start(cmd); err != nil {
		return Result{Code: 1, Stderr: tail("ssh start: "+err.Error(), stderrTail)}
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		client.Close()
		logrus.WithFields(logrus.Fields{"host": c.host, "timeout": timeout}).Warn("ssh command timed out")
		return Result{
			Code:   timeoutCode,
			Stdout: tail(stdout.String(), stdoutTail),
			Stderr: fmt.Sprintf("Command timed out after %d seconds", int(timeout.Seconds())),
		}
	case err := <-done:
		code := 0
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				code = exitErr.ExitStatus()
			} else {
				code = 1
				fmt.Fprintf(&stderr, "\nssh: %v", err)
			}
		}
		return Result{
			Code:   code,
			Stdout: tail(stdout.String(), stdoutTail),
			Stderr: tail(stderr.String(), stderrTail),
		}
	}
}

// tail keeps the last n bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
