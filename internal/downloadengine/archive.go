package downloadengine

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/ericsson-bur/offsite-backup/internal/bur"
	"github.com/ericsson-bur/offsite-backup/internal/cryptocodec"
	"github.com/ericsson-bur/offsite-backup/internal/sshexec"
)

// extractAndDecrypt inverts uploadengine's backup.metadata handling: untar
// backup.metadata.gz.tar, decrypt/decompress the .gz.gpg inside, and remove
// the intermediates, leaving a plain backup.metadata file in destPath.
func extractAndDecrypt(ctx context.Context, codec *cryptocodec.Codec, tarPath, destPath string) error {
	if _, err := sshexec.Run(ctx, 0, "tar", "-xf", tarPath, "-C", destPath); err != nil {
		return bur.Wrap(bur.KindDecode, "untar "+tarPath, err)
	}

	base := strings.TrimSuffix(filepath.Base(tarPath), ".gz.tar")
	encPath := filepath.Join(destPath, base+".gz.gpg")
	if _, err := codec.DecryptOne(ctx, encPath, true); err != nil {
		return bur.Wrap(bur.KindDecode, "decrypt "+encPath, err)
	}
	return os.Remove(tarPath)
}
