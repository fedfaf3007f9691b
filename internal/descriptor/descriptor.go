// Package descriptor implements the two self-describing list files
// written at the root of every remote backup set: the volume-list and
// file-list descriptors. The serialisation is a JSON array of strings;
// callers must not rely on anything beyond the list-of-strings round
// trip.
package descriptor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ericsson-bur/offsite-backup/internal/bur"
)

const (
	VolumeListName = "bur_volume_list_descriptor.dat"
	FileListName   = "bur_file_list_descriptor.dat"
)

// Write serialises list to a local staging file, transfers it to
// <remoteDir>/<name>, then removes the local copy. Failure to remove the
// local copy is a hard error: local junk could otherwise poison the next
// run's "does the descriptor already exist" check.
func Write(ctx context.Context, put func(ctx context.Context, local, remotePath string) error, stageDir, remoteDir, name string, list []string) error {
	data, err := json.Marshal(list)
	if err != nil {
		return bur.Wrap(bur.KindConfig, fmt.Sprintf("marshal descriptor %s", name), err)
	}

	localPath := filepath.Join(stageDir, name)
	if err := os.WriteFile(localPath, data, 0o600); err != nil {
		return bur.Wrap(bur.KindConfig, fmt.Sprintf("stage descriptor %s", name), err)
	}

	remotePath := filepath.Join(remoteDir, name)
	if err := put(ctx, localPath, remotePath); err != nil {
		return bur.Wrap(bur.KindTransfer, fmt.Sprintf("transfer descriptor %s", name), err)
	}

	if err := os.Remove(localPath); err != nil {
		return bur.Wrap(bur.KindConfig, fmt.Sprintf("remove staged descriptor %s", name), err)
	}
	return nil
}

// Read fetches <remoteDir>/<name> into stageDir, deserialises it as a list
// of strings, and removes the local copy regardless of outcome.
func Read(ctx context.Context, get func(ctx context.Context, remotePath, local string) error, stageDir, remoteDir, name string) ([]string, error) {
	localPath := filepath.Join(stageDir, name)
	remotePath := filepath.Join(remoteDir, name)

	if err := get(ctx, remotePath, localPath); err != nil {
		return nil, bur.Wrap(bur.KindTransfer, fmt.Sprintf("fetch descriptor %s", name), err)
	}
	defer os.Remove(localPath)

	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, bur.Wrap(bur.KindConfig, fmt.Sprintf("read staged descriptor %s", name), err)
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, bur.Wrap(bur.KindNoVolumeList, fmt.Sprintf("descriptor %s is not a list of strings", name), err)
	}
	return list, nil
}
