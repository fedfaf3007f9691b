// Package backupset scans the local on-site filesystem: backup-set
// directories and their volume subdirectories, the BACKUP_OK flag,
// backup.metadata, and any unexpected top-level files. Both the upload
// and download engines drive it.
package backupset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ericsson-bur/offsite-backup/internal/bur"
)

const (
	SuccessFlagFile = "BACKUP_OK"
	MetadataFile    = "backup.metadata"
	metadataSuffix  = "_metadata"
)

// BackupSet describes one on-site backup directory.
type BackupSet struct {
	Customer   string
	Tag        string
	Path       string
	Volumes    []string // volume directory names, no extensions
	TopFiles   []string // BACKUP_OK, backup.metadata, and anything unexpected
	HasFlag    bool
	HasMeta    bool
	Unexpected []string
}

// VolumeObject is a single entry of a volume's _metadata JSON "objects"
// array: {filename: {length, offset, compression, md5}}.
type VolumeObject struct {
	Length      int64  `json:"length"`
	Offset      int64  `json:"offset"`
	Compression string `json:"compression"`
	MD5         string `json:"md5"`
}

// VolumeMetadata is the parsed contents of a volume's <name>_metadata file.
type VolumeMetadata struct {
	Objects []map[string]VolumeObject
}

// UnmarshalJSON accepts the `{"objects": [...]}` wire shape.
func (m *VolumeMetadata) UnmarshalJSON(data []byte) error {
	var wire struct {
		Objects []map[string]VolumeObject `json:"objects"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	m.Objects = wire.Objects
	return nil
}

// Scan lists one BackupSet directory: volume subdirectories, the expected
// flag/metadata files, and any unexpected top-level file (logged by the
// caller, never treated as fatal).
func Scan(customer, tag, path string) (*BackupSet, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, bur.Wrap(bur.KindConfig, fmt.Sprintf("scan backup set %s", path), err)
	}

	bs := &BackupSet{Customer: customer, Tag: tag, Path: path}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			bs.Volumes = append(bs.Volumes, name)
			continue
		}
		bs.TopFiles = append(bs.TopFiles, name)
		switch name {
		case SuccessFlagFile:
			bs.HasFlag = true
		case MetadataFile:
			bs.HasMeta = true
		default:
			bs.Unexpected = append(bs.Unexpected, name)
		}
	}
	sort.Strings(bs.Volumes)
	return bs, nil
}

// ListBackupTags lists the backup-tag directories under a customer's
// local_backup_root, ordered oldest-first by directory mtime — matching
// UploadEngine's "process all valid backups in mtime order" requirement.
func ListBackupTags(localBackupRoot string) ([]string, error) {
	entries, err := os.ReadDir(localBackupRoot)
	if err != nil {
		return nil, bur.Wrap(bur.KindConfig, fmt.Sprintf("list backup root %s", localBackupRoot), err)
	}

	type tagged struct {
		name    string
		modTime int64
	}
	var tags []tagged
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		tags = append(tags, tagged{name: e.Name(), modTime: info.ModTime().UnixNano()})
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].modTime < tags[j].modTime })

	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = t.name
	}
	return names, nil
}

// FindVolumeMetadataFile locates the single "*_metadata" file inside a
// volume directory, per the Volume invariant of exactly one such file.
func FindVolumeMetadataFile(volumeDir string) (string, error) {
	entries, err := os.ReadDir(volumeDir)
	if err != nil {
		return "", bur.Wrap(bur.KindMetadataValidationFailed, fmt.Sprintf("read volume %s", volumeDir), err)
	}
	var found []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), metadataSuffix) {
			found = append(found, e.Name())
		}
	}
	if len(found) != 1 {
		return "", bur.New(bur.KindMetadataValidationFailed,
			fmt.Sprintf("volume %s must have exactly one *_metadata file, found %d", volumeDir, len(found)))
	}
	return filepath.Join(volumeDir, found[0]), nil
}

// LoadVolumeMetadata reads and parses a volume's metadata file.
func LoadVolumeMetadata(path string) (*VolumeMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, bur.Wrap(bur.KindMetadataValidationFailed, fmt.Sprintf("read metadata %s", path), err)
	}
	var m VolumeMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, bur.Wrap(bur.KindMetadataValidationFailed, fmt.Sprintf("parse metadata %s", path), err)
	}
	return &m, nil
}
