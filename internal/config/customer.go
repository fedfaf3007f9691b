package config

import "fmt"

// Well-known file names and default pool sizes shared across the pipeline.
const (
	DefaultNumThreads        = 5
	DefaultNumProcessors     = 5
	DefaultNumTransferProcs  = 8
	DefaultOffsiteRetention  = 4
	SuccessFlagFile          = "BACKUP_OK"
	BackupMetaFile           = "backup.metadata"
	VolumeListDescriptorName = "bur_volume_list_descriptor.dat"
	FileListDescriptorName   = "bur_file_list_descriptor.dat"
)

// Customer identifies one on-site staging area. The name appears in
// every remote and temporary path; lifetime is the process.
type Customer struct {
	Name            string `json:"name"`
	LocalBackupRoot string `json:"local_backup_root"`
}

// OffsiteConfig is the archive connection: host, user, and the remote
// root the per-customer trees live under. Read-only after load.
type OffsiteConfig struct {
	Host           string `json:"ip"`
	User           string `json:"user"`
	RemoteRoot     string `json:"bkp_path"`
	Folder         string `json:"bkp_dir"`
	RetentionCount int    `json:"retention"`
}

// HostAddress returns user@host.
func (o OffsiteConfig) HostAddress() string {
	return fmt.Sprintf("%s@%s", o.User, o.Host)
}

// FullRoot returns remote_root/folder.
func (o OffsiteConfig) FullRoot() string {
	return o.RemoteRoot + "/" + o.Folder
}

// OnsiteConfig holds the on-site temporary workspace root.
type OnsiteConfig struct {
	TempFolder string `json:"bkp_temp_folder"`
}

// RunContext carries everything a worker task needs: pool sizes, GPG
// recipient identity, rsync mode, and remote/local roots. It is passed
// by value so workers hold no engine state.
type RunContext struct {
	Customer        Customer
	Offsite         OffsiteConfig
	GPGEmail        string
	GPGHome         string
	RsyncSSH        bool
	ProcessPool     int
	ThreadPool      int
	TransferPool    int
	TempRoot        string
	IsGenieCustomer bool
}
