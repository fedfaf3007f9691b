// Package cryptocodec implements compress+encrypt and decrypt+decompress
// of individual files, and parallel fan-out of the same over a directory.
// gzip and gpg are invoked as external processes; the thread pool that
// fans out across files is built on internal/workerpool.
package cryptocodec

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ericsson-bur/offsite-backup/internal/bur"
	"github.com/ericsson-bur/offsite-backup/internal/sshexec"
	"github.com/ericsson-bur/offsite-backup/internal/workerpool"
)

// Codec is the GPG-identified compress/encrypt collaborator. It owns no
// state beyond the recipient identity.
type Codec struct {
	ID Identity
}

func New(id Identity) *Codec {
	return &Codec{ID: id}
}

// EncryptOne compresses srcPath with gzip, then encrypts the result with GPG
// (AES-256 cipher, no GPG-level compression) into dstDir, removing the
// intermediate .gz file on success. On encrypt failure the .gz is left in
// place so a retry can resume from it without recompressing.
func (c *Codec) EncryptOne(ctx context.Context, srcPath, dstDir string) (string, error) {
	base := filepath.Base(srcPath)
	gzPath := filepath.Join(dstDir, base+".gz")
	gpgPath := gzPath + ".gpg"

	if _, err := os.Stat(gzPath); err != nil {
		if err := compressTo(ctx, c.ID, srcPath, gzPath); err != nil {
			return "", bur.Wrap(bur.KindEncode, fmt.Sprintf("gzip %s", srcPath), err)
		}
	}

	if err := encryptTo(ctx, c.ID, gzPath, gpgPath); err != nil {
		// preserve the intermediate .gz for a resumable retry
		return "", bur.Wrap(bur.KindEncode, fmt.Sprintf("gpg encrypt %s", gzPath), err)
	}
	if err := os.Remove(gzPath); err != nil {
		return "", bur.Wrap(bur.KindEncode, fmt.Sprintf("remove intermediate %s", gzPath), err)
	}
	return gpgPath, nil
}

// DecryptOne decrypts <x>.gz.gpg to <x>.gz, decompresses to <x>, and removes
// the .gz intermediate. The encrypted source is removed only if removeSrc is
// true.
func (c *Codec) DecryptOne(ctx context.Context, encPath string, removeSrc bool) (string, error) {
	if !strings.HasSuffix(encPath, ".gz.gpg") {
		return "", bur.New(bur.KindDecode, fmt.Sprintf("not a .gz.gpg file: %s", encPath))
	}
	dir := filepath.Dir(encPath)
	base := strings.TrimSuffix(filepath.Base(encPath), ".gz.gpg")
	gzPath := filepath.Join(dir, base+".gz")
	outPath := filepath.Join(dir, base)

	if err := decryptTo(ctx, c.ID, encPath, gzPath); err != nil {
		return "", bur.Wrap(bur.KindDecode, fmt.Sprintf("gpg decrypt %s", encPath), err)
	}
	if err := decompressTo(ctx, c.ID, gzPath, outPath); err != nil {
		return "", bur.Wrap(bur.KindDecode, fmt.Sprintf("gunzip %s", gzPath), err)
	}
	if err := os.Remove(gzPath); err != nil {
		return "", bur.Wrap(bur.KindDecode, fmt.Sprintf("remove intermediate %s", gzPath), err)
	}
	if removeSrc {
		if err := os.Remove(encPath); err != nil {
			return "", bur.Wrap(bur.KindDecode, fmt.Sprintf("remove source %s", encPath), err)
		}
	}
	return outPath, nil
}

// EncryptMany runs EncryptOne over every non-directory entry of srcDir with
// up to parallelism concurrent workers. Errors across files are aggregated;
// the call fails iff any worker failed.
func (c *Codec) EncryptMany(ctx context.Context, srcDir, dstDir string, parallelism int) error {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return bur.Wrap(bur.KindEncode, fmt.Sprintf("read dir %s", srcDir), err)
	}

	pool := workerpool.New(ctx, parallelism)
	var mu sync.Mutex
	var errs []error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		src := filepath.Join(srcDir, e.Name())
		_ = pool.Submit(func(ctx context.Context) error {
			if _, err := c.EncryptOne(ctx, src, dstDir); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = pool.Join()
	return aggregateErrors(bur.KindEncode, errs)
}

// DecryptMany runs DecryptOne over every *.gz.gpg entry of dir with up to
// parallelism concurrent workers.
func (c *Codec) DecryptMany(ctx context.Context, dir string, parallelism int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return bur.Wrap(bur.KindDecode, fmt.Sprintf("read dir %s", dir), err)
	}

	pool := workerpool.New(ctx, parallelism)
	var mu sync.Mutex
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".gz.gpg") {
			continue
		}
		src := filepath.Join(dir, e.Name())
		_ = pool.Submit(func(ctx context.Context) error {
			if _, err := c.DecryptOne(ctx, src, true); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = pool.Join()
	return aggregateErrors(bur.KindDecode, errs)
}

func aggregateErrors(kind bur.Kind, errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return bur.New(kind, strings.Join(msgs, "; "))
}

func compressTo(ctx context.Context, id Identity, src, dst string) error {
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	res, err := sshexec.RunEnv(ctx, 0, id.env(), "gzip", "-6", "-c", src)
	if err != nil {
		return err
	}
	_, werr := out.WriteString(res.Stdout)
	return werr
}

func decompressTo(ctx context.Context, id Identity, src, dst string) error {
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	res, err := sshexec.RunEnv(ctx, 0, id.env(), "gunzip", "-c", src)
	if err != nil {
		return err
	}
	_, werr := out.WriteString(res.Stdout)
	return werr
}

func encryptTo(ctx context.Context, id Identity, src, dst string) error {
	_, err := sshexec.RunEnv(ctx, 0, id.env(),
		"gpg", "--batch", "--yes",
		"--cipher-algo", cipherAlg,
		"--compress-algo", compressAlg,
		"--recipient", id.Email,
		"--trust-model", "always",
		"--output", dst,
		"--encrypt", src,
	)
	return err
}

func decryptTo(ctx context.Context, id Identity, src, dst string) error {
	_, err := sshexec.RunEnv(ctx, 0, id.env(),
		"gpg", "--batch", "--yes",
		"--output", dst,
		"--decrypt", src,
	)
	return err
}
