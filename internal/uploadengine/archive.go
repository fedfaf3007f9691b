package uploadengine

import (
	"context"
	"path/filepath"

	"github.com/ericsson-bur/offsite-backup/internal/bur"
	"github.com/ericsson-bur/offsite-backup/internal/sshexec"
)

// archive tars a single file into tarPath, used for backup.metadata.gz ->
// backup.metadata.gz.tar.
func archive(ctx context.Context, path, tarPath string) error {
	if _, err := sshexec.Run(ctx, 0, "tar", "-cf", tarPath, "-C", filepath.Dir(path), filepath.Base(path)); err != nil {
		return bur.Wrap(bur.KindEncode, "archive "+path, err)
	}
	return nil
}
