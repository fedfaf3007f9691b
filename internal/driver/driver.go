// Package driver is the top-level one-shot orchestration: load
// configuration, connect to the offsite archive, dispatch to the upload,
// download, or retention engine per the requested operation, and
// aggregate per-backup and per-customer failures into the process exit
// code.
package driver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ericsson-bur/offsite-backup/internal/backupset"
	"github.com/ericsson-bur/offsite-backup/internal/bur"
	"github.com/ericsson-bur/offsite-backup/internal/config"
	"github.com/ericsson-bur/offsite-backup/internal/cryptocodec"
	"github.com/ericsson-bur/offsite-backup/internal/downloadengine"
	"github.com/ericsson-bur/offsite-backup/internal/observability"
	"github.com/ericsson-bur/offsite-backup/internal/remotestore"
	"github.com/ericsson-bur/offsite-backup/internal/retention"
	"github.com/ericsson-bur/offsite-backup/internal/sshexec"
	"github.com/ericsson-bur/offsite-backup/internal/uploadengine"
	"github.com/ericsson-bur/offsite-backup/internal/validator"
	"github.com/ericsson-bur/offsite-backup/internal/watchdog"
	"github.com/ericsson-bur/offsite-backup/internal/workerpool"
)

// Operation mirrors the --script_option flag.
type Operation int

const (
	OpUpload    Operation = 1
	OpDownload  Operation = 2
	OpRetention Operation = 3
)

// ExitCode enumerates the process exit codes.
type ExitCode int

const (
	ExitSuccess          ExitCode = 0
	ExitInvalidInput     ExitCode = 2
	ExitFailedUpload     ExitCode = 3
	ExitFailedDownload   ExitCode = 4
	ExitFailedRetention  ExitCode = 5
	ExitFailedValidation ExitCode = 6
)

// Request carries the resolved CLI surface.
type Request struct {
	Operation           Operation
	CustomerName        string // "" = all
	BackupTag           string // "" = all valid (upload) / list (download)
	BackupDestination   string // "" = customer's local path
	NumberThreads       int
	NumberProcessors    int
	NumberTransferProcs int
	RsyncSSH            bool
	OffsiteRetention    int // 0 = use config
	MaxDelay            time.Duration
	WatchdogCallback    watchdog.Callback
}

// Driver owns the config, logger, and SSH/RemoteStore wiring shared across
// every per-customer run.
type Driver struct {
	Config *config.Config
	Logger *observability.Logger
}

func New(cfg *config.Config, logger *observability.Logger) *Driver {
	return &Driver{Config: cfg, Logger: logger}
}

// Result is the aggregated outcome of one driver invocation.
type Result struct {
	ExitCode ExitCode
	Failures []string
}

// Run dispatches req to the appropriate engine(s) across every matched
// customer, collecting per-backup and per-customer failures and only
// then returning non-zero.
func (d *Driver) Run(ctx context.Context, req Request) (*Result, error) {
	customers, err := d.selectCustomers(req.CustomerName)
	if err != nil {
		return &Result{ExitCode: ExitFailedValidation}, err
	}
	if len(customers) == 0 {
		return &Result{ExitCode: ExitFailedValidation}, bur.New(bur.KindConfig, "no matching customer")
	}

	processPool := workerpool.ClampProcessCount(req.NumberProcessors)
	if req.NumberProcessors > processPool {
		d.Logger.Sugar().Warnw("requested process pool size exceeds logical CPU count, clamping",
			"requested", req.NumberProcessors, "clamped", processPool)
	}

	ssh, err := d.dialOffsite()
	if err != nil {
		return &Result{ExitCode: ExitFailedValidation}, err
	}
	defer ssh.Close()

	rcfg := remotestore.RsyncConfig{SSHMode: req.RsyncSSH, Host: d.hostString(req.RsyncSSH)}
	store := remotestore.New(ssh, rcfg)
	index := remotestore.NewIndex(store)

	identity := cryptocodec.Identity{Name: d.Config.GPG.UserName, Email: d.Config.GPG.UserEmail, GPGHome: d.Config.GPG.Home}
	if err := d.preflight(ctx, ssh, identity); err != nil {
		d.Logger.ErrorRedacted("preflight checks failed",
			zap.String("offsite", d.Config.Offsite.HostAddress()), zap.String("error", err.Error()))
		return &Result{ExitCode: ExitFailedValidation}, err
	}
	d.Logger.InfoRedacted("offsite connection ready",
		zap.String("offsite", d.Config.Offsite.HostAddress()),
		zap.String("operation", operationName(req.Operation)))

	var failures []string
	var wd *watchdog.Watchdog
	if req.MaxDelay > 0 && req.WatchdogCallback != nil {
		wd = watchdog.Start(req.MaxDelay, req.WatchdogCallback)
		defer wd.Stop()
	}

	offsite := d.Config.Offsite
	if req.OffsiteRetention > 0 {
		offsite.RetentionCount = req.OffsiteRetention
	}

	for _, cust := range customers {
		rc := config.RunContext{
			Customer:        cust,
			Offsite:         offsite,
			GPGEmail:        d.Config.GPG.UserEmail,
			GPGHome:         d.Config.GPG.Home,
			RsyncSSH:        req.RsyncSSH,
			ProcessPool:     processPool,
			ThreadPool:      nonZero(req.NumberThreads, d.Config.Pools.Threads),
			TransferPool:    nonZero(req.NumberTransferProcs, d.Config.Pools.Transfer),
			TempRoot:        d.Config.Onsite.TempFolder,
			IsGenieCustomer: validator.IsGenieCustomer(cust.Name),
		}

		custLogger, logErr := d.Logger.ForOperation(d.Config.LogRootPath, cust.Name, operationName(req.Operation))
		if logErr != nil {
			custLogger = d.Logger
		}

		switch req.Operation {
		case OpUpload:
			failures = append(failures, d.runUpload(ctx, rc, store, index, custLogger, req.BackupTag)...)
		case OpDownload:
			dest := req.BackupDestination
			if dest == "" {
				dest = cust.LocalBackupRoot
			}
			failures = append(failures, d.runDownload(ctx, rc, store, index, custLogger, req.BackupTag, dest)...)
		case OpRetention:
			failures = append(failures, d.runRetention(ctx, rc, store, index, custLogger, req.OffsiteRetention)...)
		default:
			return &Result{ExitCode: ExitInvalidInput}, bur.New(bur.KindConfig, fmt.Sprintf("unknown script_option %d", req.Operation))
		}
	}

	if len(failures) > 0 {
		return &Result{ExitCode: exitCodeFor(req.Operation), Failures: failures},
			bur.New(kindFor(req.Operation), strings.Join(failures, "; "))
	}
	return &Result{ExitCode: ExitSuccess}, nil
}

func (d *Driver) runUpload(ctx context.Context, rc config.RunContext, store *remotestore.Store, index *remotestore.Index, logger *observability.Logger, tag string) []string {
	engine := uploadengine.New(store, logger)
	var failures []string

	tags, err := d.backupTagsFor(rc.Customer, tag)
	if err != nil {
		return []string{err.Error()}
	}
	for _, t := range tags {
		bs, err := backupset.Scan(rc.Customer.Name, t, filepath.Join(rc.Customer.LocalBackupRoot, t))
		if err != nil {
			failures = append(failures, err.Error())
			continue
		}
		if !bs.HasFlag {
			if tag != "" {
				failures = append(failures, fmt.Sprintf("%s/%s: no %s flag", rc.Customer.Name, t, backupset.SuccessFlagFile))
			} else {
				logger.Sugar().Warnw("skipping backup without BACKUP_OK flag", "customer", rc.Customer.Name, "tag", t)
			}
			continue
		}
		for _, f := range bs.Unexpected {
			logger.Sugar().Warnw("ignoring unexpected top-level file in backup set", "customer", rc.Customer.Name, "tag", t, "file", f)
		}
		if err := validateForUpload(rc, bs); err != nil {
			if tag != "" {
				failures = append(failures, fmt.Sprintf("%s/%s: %v", rc.Customer.Name, t, err))
			} else {
				logger.Sugar().Warnw("skipping backup that fails per-volume validation", "customer", rc.Customer.Name, "tag", t, "error", err)
			}
			continue
		}
		if _, err := engine.ProcessBackup(ctx, rc, bs); err != nil {
			failures = append(failures, fmt.Sprintf("%s/%s: %v", rc.Customer.Name, t, err))
			continue // one backup's failure does not stop the next
		}
	}

	ret := retention.New(store, index.Bind(rc.Offsite.FullRoot()), logger)
	if _, err := ret.Run(ctx, rc.Customer.Name, rc.Offsite.RetentionCount); err != nil {
		logger.Sugar().Warnw("retention run after upload failed", "customer", rc.Customer.Name, "error", err)
	}
	return failures
}

// validateForUpload enforces the "valid for upload" invariant: the success
// flag is already known present, and every volume must validate against its
// internal metadata. Genie-volume customers skip the per-volume half and
// require only the flag.
func validateForUpload(rc config.RunContext, bs *backupset.BackupSet) error {
	if rc.IsGenieCustomer {
		return nil
	}
	for _, name := range bs.Volumes {
		if err := validator.ValidateVolume(filepath.Join(bs.Path, name)); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) runDownload(ctx context.Context, rc config.RunContext, store *remotestore.Store, index *remotestore.Index, logger *observability.Logger, tag, dest string) []string {
	bound := index.Bind(rc.Offsite.FullRoot())
	engine := downloadengine.New(store, bound, logger)

	if tag == "" {
		paths, err := bound.ListBackups(ctx, rc.Customer.Name)
		if err != nil {
			return []string{err.Error()}
		}
		logger.Sugar().Infow("available backups", "customer", rc.Customer.Name, "backups", paths)
		return nil
	}

	if _, err := engine.DownloadBackup(ctx, rc, tag, dest); err != nil {
		return []string{fmt.Sprintf("%s/%s: %v", rc.Customer.Name, tag, err)}
	}
	return nil
}

func (d *Driver) runRetention(ctx context.Context, rc config.RunContext, store *remotestore.Store, index *remotestore.Index, logger *observability.Logger, retentionOverride int) []string {
	count := rc.Offsite.RetentionCount
	if retentionOverride > 0 {
		count = retentionOverride
	}
	engine := retention.New(store, index.Bind(rc.Offsite.FullRoot()), logger)
	if _, err := engine.Run(ctx, rc.Customer.Name, count); err != nil {
		return []string{fmt.Sprintf("%s: %v", rc.Customer.Name, err)}
	}
	return nil
}

// backupTagsFor resolves the set of backup tags to process: either the
// single requested tag, or every valid backup in mtime order.
func (d *Driver) backupTagsFor(cust config.Customer, tag string) ([]string, error) {
	if tag != "" {
		return []string{tag}, nil
	}
	return backupset.ListBackupTags(cust.LocalBackupRoot)
}

func (d *Driver) selectCustomers(name string) ([]config.Customer, error) {
	if name != "" {
		cust, ok := d.Config.GetCustomer(name)
		if !ok {
			return nil, bur.New(bur.KindConfig, fmt.Sprintf("unknown customer %q", name))
		}
		return []config.Customer{cust}, nil
	}
	custs := d.Config.ListCustomers()
	sort.Slice(custs, func(i, j int) bool { return custs[i].Name < custs[j].Name })
	return custs, nil
}

// preflight runs the remote-reachability and GPG-keyring health checks;
// failures here are fatal before any backup work starts.
func (d *Driver) preflight(ctx context.Context, ssh *sshexec.Client, identity cryptocodec.Identity) error {
	hc := observability.NewHealthChecker()
	hc.RegisterCheck("offsite", observability.RemoteReachableCheck(func(ctx context.Context) error {
		_, err := ssh.Run(ctx, "true")
		return err
	}))
	hc.RegisterCheck("gpg", observability.GPGKeyringCheck(func(ctx context.Context) error {
		return cryptocodec.EnsureKey(ctx, identity)
	}))
	hc.RunChecks(ctx)
	if !hc.IsHealthy() {
		return bur.New(bur.KindConfig, fmt.Sprintf("preflight checks failed: %+v", hc.GetHealth()))
	}
	return nil
}

func (d *Driver) dialOffsite() (*sshexec.Client, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, bur.Wrap(bur.KindSSH, "resolve home directory for SSH key", err)
	}
	keyPath := filepath.Join(home, ".ssh", "id_rsa")
	return sshexec.Dial(d.Config.Offsite.Host, d.Config.Offsite.User, keyPath, sshexec.DefaultTimeout)
}

func (d *Driver) hostString(sshMode bool) string {
	if sshMode {
		return d.Config.Offsite.HostAddress()
	}
	return d.Config.Offsite.Host
}

func nonZero(requested, fallback int) int {
	if requested <= 0 {
		return fallback
	}
	return requested
}

func operationName(op Operation) string {
	switch op {
	case OpUpload:
		return "upload"
	case OpDownload:
		return "download"
	case OpRetention:
		return "retention"
	default:
		return "unknown"
	}
}

func exitCodeFor(op Operation) ExitCode {
	switch op {
	case OpUpload:
		return ExitFailedUpload
	case OpDownload:
		return ExitFailedDownload
	case OpRetention:
		return ExitFailedRetention
	default:
		return ExitInvalidInput
	}
}

func kindFor(op Operation) bur.Kind {
	switch op {
	case OpUpload:
		return bur.KindEncode
	case OpDownload:
		return bur.KindDownloadProcessFailed
	case OpRetention:
		return bur.KindRetentionRemovalFailed
	default:
		return bur.KindConfig
	}
}
