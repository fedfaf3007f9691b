// Package volumeprocessor encodes a single volume for upload (compress,
// encrypt, archive) and decodes one for download (unarchive, decrypt,
// decompress), producing the VolumeOutcome record the worker pools pass
// between stages.
package volumeprocessor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/ericsson-bur/offsite-backup/internal/cryptocodec"
	"github.com/ericsson-bur/offsite-backup/internal/sshexec"
)

// VolumeOutcome records the result of encoding or decoding one volume,
// plus the per-stage timings. ContentHash is a secondary,
// non-authoritative xxhash64 fingerprint of the produced archive, a cheap
// "did this change since last run" diagnostic; the validator's MD5 check
// remains the authoritative contract.
type VolumeOutcome struct {
	VolumePath     string
	ProcessingTime time.Duration
	ArchiveTime    time.Duration
	TransferTime   time.Duration
	TransferStats  interface{}
	Status         bool
	Output         string
	ContentHash    uint64
}

// Processor encodes/decodes volumes using a Codec for per-file crypto work
// and a thread-pool size for CryptoCodec's internal fan-out.
type Processor struct {
	Codec      *cryptocodec.Codec
	ThreadPool int
}

func New(codec *cryptocodec.Codec, threadPool int) *Processor {
	return &Processor{Codec: codec, ThreadPool: threadPool}
}

// Encode ensures tmpVolumeDir exists and is empty, encrypts every file in
// volumeDir into it, tars the result, and removes the now-redundant
// directory.
func (p *Processor) Encode(ctx context.Context, volumeDir, tmpVolumeDir string) VolumeOutcome {
	outcome := VolumeOutcome{VolumePath: volumeDir}

	procStart := time.Now()
	if err := os.RemoveAll(tmpVolumeDir); err != nil {
		return fail(outcome, fmt.Sprintf("clear tmp volume dir: %v", err))
	}
	if err := os.MkdirAll(tmpVolumeDir, 0o700); err != nil {
		return fail(outcome, fmt.Sprintf("create tmp volume dir: %v", err))
	}

	if err := p.Codec.EncryptMany(ctx, volumeDir, tmpVolumeDir, p.ThreadPool); err != nil {
		return fail(outcome, err.Error())
	}
	outcome.ProcessingTime = time.Since(procStart)

	archiveStart := time.Now()
	tarPath := tmpVolumeDir + ".tar"
	if _, err := sshexec.Run(ctx, 0, "tar", "-cf", tarPath, "-C", filepath.Dir(tmpVolumeDir), filepath.Base(tmpVolumeDir)); err != nil {
		return fail(outcome, fmt.Sprintf("archive volume: %v", err))
	}
	outcome.ArchiveTime = time.Since(archiveStart)

	if err := os.RemoveAll(tmpVolumeDir); err != nil {
		return fail(outcome, fmt.Sprintf("remove tmp volume dir after archive: %v", err))
	}

	hash, err := hashFile(tarPath)
	if err != nil {
		return fail(outcome, fmt.Sprintf("hash archive: %v", err))
	}
	outcome.ContentHash = hash
	outcome.Status = true
	outcome.VolumePath = tarPath
	return outcome
}

// Decode untars <vol>.tar next to itself and decrypts every file inside.
// The archive file itself is left in place; the download engine owns its
// removal.
func (p *Processor) Decode(ctx context.Context, archivedVolumePath string) VolumeOutcome {
	outcome := VolumeOutcome{VolumePath: archivedVolumePath}

	archiveStart := time.Now()
	destDir := filepath.Dir(archivedVolumePath)
	if _, err := sshexec.Run(ctx, 0, "tar", "-xf", archivedVolumePath, "-C", destDir); err != nil {
		return fail(outcome, fmt.Sprintf("untar volume: %v", err))
	}
	outcome.ArchiveTime = time.Since(archiveStart)

	volDir := archivedVolumePath[:len(archivedVolumePath)-len(".tar")]

	procStart := time.Now()
	if err := p.Codec.DecryptMany(ctx, volDir, p.ThreadPool); err != nil {
		return fail(outcome, err.Error())
	}
	outcome.ProcessingTime = time.Since(procStart)

	outcome.VolumePath = volDir
	outcome.Status = true
	return outcome
}

func fail(outcome VolumeOutcome, reason string) VolumeOutcome {
	outcome.Status = false
	outcome.Output = reason
	return outcome
}

func hashFile(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64(data), nil
}
