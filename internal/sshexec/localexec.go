// Package sshexec is the external-process boundary: every invocation of
// rsync, gpg, gzip, tar, du, and every remote command run over SSH passes
// through here so timeout, stdout/stderr capture, and error wrapping are
// handled in exactly one place.
package sshexec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/ericsson-bur/offsite-backup/internal/bur"
)

// DefaultTimeout is the per-call timeout applied to every external process
// and SSH invocation unless the caller overrides it.
const DefaultTimeout = 120 * time.Second

// Result captures everything callers need to diagnose a completed process.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Run executes name with args, enforcing timeout (DefaultTimeout if <= 0),
// and returns the captured output. A non-zero exit is reported as a
// *bur.Error wrapping the underlying exec error; a timeout as a *bur.Error
// wrapping context.DeadlineExceeded.
func Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error) {
	return RunEnv(ctx, timeout, nil, name, args...)
}

// RunEnv behaves like Run but, when env is non-nil, runs the process with
// env as its complete environment; callers that want the process's own
// environment plus extra variables (e.g. GNUPGHOME for GPG invocations)
// pass os.Environ() with those variables appended. A nil env inherits the
// process's own environment.
func RunEnv(ctx context.Context, timeout time.Duration, env []string, name string, args ...string) (Result, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, name, args...)
	if env != nil {
		cmd.Env = env
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if cctx.Err() == context.DeadlineExceeded {
		return res, bur.Wrap(bur.KindSSH, fmt.Sprintf("%s timed out after %s", name, timeout), cctx.Err())
	}
	if err != nil {
		return res, bur.Wrap(bur.KindSSH, fmt.Sprintf("%s failed: %s", name, res.Stderr), err)
	}
	return res, nil
}
