package sshexec

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/ericsson-bur/offsite-backup/internal/bur"
)

// Client is a long-lived SSH connection used for every RemoteStore call that
// is not a bulk data transfer (PathExists, MkdirP, Remove, List,
// CountContent, SizeMB, SortByOldestEntry). Bulk transfer still shells out to
// the rsync binary; see internal/remotestore/rsync.go.
type Client struct {
	host    string
	user    string
	client  *ssh.Client
	timeout time.Duration
}

// Dial opens an SSH connection to user@host:22, authenticating with the
// private key at keyPath. host may be a bare hostname or IP; the address is
// always keyPath's companion, not a daemon URL — rsync-daemon mode is
// handled entirely inside internal/remotestore and never touches this
// client.
func Dial(host, user, keyPath string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, bur.Wrap(bur.KindSSH, "read private key", err)
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, bur.Wrap(bur.KindSSH, "parse private key", err)
	}

	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	addr := net.JoinHostPort(host, "22")
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, bur.Wrap(bur.KindSSH, fmt.Sprintf("dial %s", addr), err)
	}

	return &Client{host: host, user: user, client: client, timeout: timeout}, nil
}

// Close releases the underlying SSH connection.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Run executes cmd on the remote host over a fresh session, enforcing the
// client's configured timeout. Every RemoteStore non-transfer call goes
// through this single choke point.
func (c *Client) Run(ctx context.Context, cmd string) (Result, error) {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	session, err := c.client.NewSession()
	if err != nil {
		return Result{}, bur.Wrap(bur.KindSSH, "open session", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-cctx.Done():
		// The session goroutine may still be writing to the buffers; do not
		// read them here.
		session.Close()
		return Result{}, bur.Wrap(bur.KindSSH, fmt.Sprintf("%q timed out after %s", cmd, c.timeout), cctx.Err())
	case err := <-done:
		res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
		if err != nil {
			if exitErr, ok := err.(*ssh.ExitError); ok {
				res.ExitCode = exitErr.ExitStatus()
				return res, nil
			}
			return res, bur.Wrap(bur.KindSSH, fmt.Sprintf("run %q", cmd), err)
		}
		return res, nil
	}
}
