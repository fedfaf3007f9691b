// Command bur is the one-shot entry point: upload newly produced backup
// sets to the offsite archive, download and reconstruct a named backup
// set, or enforce retention, for one or all configured customers.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ericsson-bur/offsite-backup/internal/config"
	"github.com/ericsson-bur/offsite-backup/internal/driver"
	"github.com/ericsson-bur/offsite-backup/internal/observability"
)

var (
	cfgFile             string
	scriptOption        int
	customerName        string
	backupTag           string
	backupDestination   string
	numberThreads       string
	numberProcessors    string
	numberTransferProcs string
	rsyncSSH            bool
	offsiteRetention    int
	logRootPath         string
	logLevel            string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(int(driver.ExitInvalidInput))
	}
}

var rootCmd = &cobra.Command{
	Use:   "bur",
	Short: "Encrypted, resumable offsite backup transfer",
	Long: `bur uploads newly produced backup sets to an offsite archive, downloads
and reconstructs a named backup set, and enforces retention by removing the
oldest remote backups beyond a configured count.`,
	RunE: run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: $HOME/.bur/config.json)")
	flags.IntVar(&scriptOption, "script_option", 1, "1=upload, 2=download, 3=retention")
	flags.StringVar(&customerName, "customer_name", "", "restrict to a single customer (default: all)")
	flags.StringVar(&backupTag, "backup_tag", "", "restrict to a single backup tag (default: all valid)")
	flags.StringVar(&backupDestination, "backup_destination", "", "download root (default: customer's local path)")
	flags.StringVar(&numberThreads, "number_threads", strconv.Itoa(config.DefaultNumThreads), "per-volume file encrypt/decrypt thread pool size")
	flags.StringVar(&numberProcessors, "number_processors", strconv.Itoa(config.DefaultNumProcessors), "volume encode/decode process pool size")
	flags.StringVar(&numberTransferProcs, "number_transfer_processors", strconv.Itoa(config.DefaultNumTransferProcs), "rsync transfer pool size")
	flags.BoolVar(&rsyncSSH, "rsync_ssh", false, "true=ssh transport, false=rsync daemon")
	flags.IntVar(&offsiteRetention, "offsite_retention", 0, "overrides the configured retention count")
	flags.StringVar(&logRootPath, "log_root_path", "", "log root (default: $HOME/backup)")
	flags.StringVar(&logLevel, "log_level", "info", "critical/error/warning/info/debug")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return exitError(driver.ExitInvalidInput, err)
	}
	if logRootPath != "" {
		cfg.LogRootPath = logRootPath
	}
	if logLevel != "" {
		cfg.LogLevel = mapLogLevel(logLevel)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return exitError(driver.ExitInvalidInput, err)
	}
	defer logger.Sync()

	if scriptOption < 1 || scriptOption > 3 {
		return exitError(driver.ExitInvalidInput, fmt.Errorf("invalid --script_option %d", scriptOption))
	}

	req := driver.Request{
		Operation:           driver.Operation(scriptOption),
		CustomerName:        customerName,
		BackupTag:           backupTag,
		BackupDestination:   backupDestination,
		NumberThreads:       parsePoolSize(logger, "number_threads", numberThreads, config.DefaultNumThreads),
		NumberProcessors:    parsePoolSize(logger, "number_processors", numberProcessors, config.DefaultNumProcessors),
		NumberTransferProcs: parsePoolSize(logger, "number_transfer_processors", numberTransferProcs, config.DefaultNumTransferProcs),
		RsyncSSH:            rsyncSSH,
		OffsiteRetention:    offsiteRetention,
		MaxDelay:            cfg.Delay.Duration(),
		WatchdogCallback: func(elapsed time.Duration) {
			logger.Warn("operation exceeded configured max delay", zap.Duration("elapsed", elapsed))
		},
	}

	d := driver.New(cfg, logger)
	result, err := d.Run(context.Background(), req)
	if err != nil {
		logger.Error("operation failed", zap.Int("exit_code", int(result.ExitCode)), zap.Strings("failures", result.Failures))
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(int(result.ExitCode))
	}
	return nil
}

// parsePoolSize parses a pool-size flag value, falling back to the flag's
// default when it is not a number. Range clamping happens later, per pool.
func parsePoolSize(logger *observability.Logger, flag, raw string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		logger.Warn("unparseable pool size, using default",
			zap.String("flag", flag), zap.String("value", raw), zap.Int("default", fallback))
		return fallback
	}
	return n
}

// mapLogLevel translates the CLI's level names to zap's: "critical" and
// "warning" are not levels zap parses.
func mapLogLevel(level string) string {
	switch level {
	case "critical":
		return "fatal"
	case "warning":
		return "warn"
	default:
		return level
	}
}

func exitError(code driver.ExitCode, err error) error {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(int(code))
	return nil
}
