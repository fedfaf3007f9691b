// Package validator implements the per-volume metadata validation that
// anchors both upload-side filtering and download-side verification, plus
// disk-space preconditions.
package validator

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/ericsson-bur/offsite-backup/internal/backupset"
	"github.com/ericsson-bur/offsite-backup/internal/bur"
)

// GenieVolumeCustomer is the well-known customer id that skips per-volume
// metadata validation on upload, requiring only the success flag. It
// still gets the BACKUP_OK download guard; no special case there.
const GenieVolumeCustomer = "genie_vol_bkp"

// ValidateVolume checks the volume invariants: every name listed in
// objects exists in the directory, every object has an md5 field, and no
// entry has more than one key. dataDir is the directory whose contents
// are compared against objects (for download-side verification this is
// the reconstructed volume directory).
func ValidateVolume(dataDir string) error {
	metaPath, err := backupset.FindVolumeMetadataFile(dataDir)
	if err != nil {
		return err
	}
	meta, err := backupset.LoadVolumeMetadata(metaPath)
	if err != nil {
		return err
	}

	for _, entry := range meta.Objects {
		if len(entry) != 1 {
			return bur.New(bur.KindMetadataValidationFailed,
				fmt.Sprintf("%s: object entry must have exactly one key, got %d", dataDir, len(entry)))
		}
		for name, obj := range entry {
			if obj.MD5 == "" {
				return bur.New(bur.KindMetadataValidationFailed,
					fmt.Sprintf("%s: object %q missing md5", dataDir, name))
			}
			path := filepath.Join(dataDir, name)
			if _, err := os.Stat(path); err != nil {
				return bur.Wrap(bur.KindMetadataValidationFailed,
					fmt.Sprintf("%s: listed object %q not found", dataDir, name), err)
			}
		}
	}
	return nil
}

// VerifyContentMD5 checks, for every object in the volume's metadata,
// that the md5 of the file under dataDir matches the recorded md5.
func VerifyContentMD5(dataDir string) error {
	metaPath, err := backupset.FindVolumeMetadataFile(dataDir)
	if err != nil {
		return err
	}
	meta, err := backupset.LoadVolumeMetadata(metaPath)
	if err != nil {
		return err
	}

	var mismatches []string
	for _, entry := range meta.Objects {
		for name, obj := range entry {
			sum, err := md5File(filepath.Join(dataDir, name))
			if err != nil {
				mismatches = append(mismatches, fmt.Sprintf("%s: %v", name, err))
				continue
			}
			if sum != obj.MD5 {
				mismatches = append(mismatches, fmt.Sprintf("%s: md5 mismatch (want %s got %s)", name, obj.MD5, sum))
			}
		}
	}
	if len(mismatches) > 0 {
		return bur.New(bur.KindMetadataValidationFailed, fmt.Sprintf("%s: %v", dataDir, mismatches))
	}
	return nil
}

func md5File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// IsGenieCustomer reports whether customer is the special deployment that
// skips per-volume metadata validation.
func IsGenieCustomer(customer string) bool {
	return customer == GenieVolumeCustomer
}

// CheckDiskSpace returns a DiskSpaceError if the free space available at
// path, in bytes, is less than requiredBytes. This is a hard
// precondition, not advisory.
func CheckDiskSpace(path string, requiredBytes int64) error {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return bur.Wrap(bur.KindDiskSpace, fmt.Sprintf("statfs %s", path), err)
	}
	free := int64(stat.Bavail) * int64(stat.Bsize)
	if free < requiredBytes {
		return bur.New(bur.KindDiskSpace,
			fmt.Sprintf("%s has %d bytes free, need %d", path, free, requiredBytes))
	}
	return nil
}

// DirSizeBytes sums the size of every regular file under root, used to size
// the disk-space precondition against a source backup directory.
func DirSizeBytes(root string) (int64, error) {
	var total int64
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, bur.Wrap(bur.KindDiskSpace, fmt.Sprintf("size %s", root), err)
	}
	return total, nil
}
