package cryptocodec

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"strings"

	"github.com/ericsson-bur/offsite-backup/internal/bur"
	"github.com/ericsson-bur/offsite-backup/internal/sshexec"
)

// Identity names the GPG recipient and the keyring used for every
// encrypt/decrypt call. A process-wide GPG home directory holds the key
// material.
type Identity struct {
	Name    string // GNUPG.GPG_USER_NAME
	Email   string // GNUPG.GPG_USER_EMAIL, also the --recipient
	GPGHome string // GNUPG_HOME, e.g. $HOME/.gnupg or a per-run directory
	KeyType string // GPG_KEY_TYPE, default "RSA"
	KeyBits int    // GPG_KEY_LENGTH, default 1024
}

const (
	defaultKeyType = "RSA"
	defaultKeyBits = 1024
	cipherAlg      = "AES256"
	compressAlg    = "none"
)

func (id Identity) env() []string {
	env := os.Environ()
	if id.GPGHome != "" {
		env = append(env, "GNUPGHOME="+id.GPGHome)
	}
	return env
}

// EnsureKey validates that a usable GPG keypair exists for id.Email,
// creating one if absent. A missing keyring directory is not itself fatal
// (gpg creates one lazily), but "permission denied" while reading the
// keyring is fatal and reported with the current OS user for diagnosis.
func EnsureKey(ctx context.Context, id Identity) error {
	if id.KeyType == "" {
		id.KeyType = defaultKeyType
	}
	if id.KeyBits == 0 {
		id.KeyBits = defaultKeyBits
	}

	exists, err := keyExists(ctx, id)
	if err != nil {
		if isPermissionDenied(err) {
			u, uerr := user.Current()
			who := "unknown user"
			if uerr == nil {
				who = u.Username
			}
			return bur.Wrap(bur.KindConfig, fmt.Sprintf("permission denied reading GPG keyring as %s", who), err)
		}
		return err
	}
	if exists {
		return nil
	}

	return generateKey(ctx, id)
}

func keyExists(ctx context.Context, id Identity) (bool, error) {
	cmd := runWithEnv(ctx, id.env(), "gpg", "--list-keys", id.Email)
	res, err := cmd()
	if err != nil {
		if res.ExitCode != 0 && !isPermissionDenied(err) {
			// gpg exits non-zero (and reports on stderr) when the key is
			// simply absent; that is not an error condition here.
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func generateKey(ctx context.Context, id Identity) error {
	batch := fmt.Sprintf(`%%no-protection
Key-Type: %s
Key-Length: %d
Name-Real: %s
Name-Email: %s
Expire-Date: 0
%%commit
`, id.KeyType, id.KeyBits, id.Name, id.Email)

	tmp, err := os.CreateTemp("", "gpg-gen-key-*.batch")
	if err != nil {
		return bur.Wrap(bur.KindConfig, "create gpg batch file", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(batch); err != nil {
		tmp.Close()
		return bur.Wrap(bur.KindConfig, "write gpg batch file", err)
	}
	tmp.Close()

	cmd := runWithEnv(ctx, id.env(), "gpg", "--batch", "--gen-key", tmp.Name())
	if _, err := cmd(); err != nil {
		return bur.Wrap(bur.KindConfig, fmt.Sprintf("generate GPG key for %s", id.Email), err)
	}
	return nil
}

func isPermissionDenied(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "permission denied")
}

// runWithEnv wraps an sshexec.RunEnv call with env (Identity.env, which
// carries GNUPGHOME) in a closure for the key-management commands above.
func runWithEnv(ctx context.Context, env []string, name string, args ...string) func() (sshexec.Result, error) {
	return func() (sshexec.Result, error) {
		return sshexec.RunEnv(ctx, 0, env, name, args...)
	}
}
