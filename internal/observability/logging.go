package observability

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// key=value style secrets: GPG passphrases, SSH key paths handed to
	// external processes, and anything else that looks like a credential.
	kvSecretPattern = regexp.MustCompile(`(?i)(password|passphrase|secret|key|token|credential)[\s]*[=:][\s]*[^\s]+`)

	// PEM-encoded private key material, in case an SSH identity ever leaks
	// into an error string.
	pemKeyPattern = regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`)

	// user@host rsync/ssh endpoints; the account name is the sensitive half.
	hostUserPattern = regexp.MustCompile(`\b[A-Za-z0-9._-]+@([A-Za-z0-9._-]+)`)

	// Environment variable names whose values must never be logged.
	secretEnvKeys = []string{
		"PASSWORD", "PASSPHRASE", "SECRET", "KEY", "TOKEN", "CREDENTIAL", "GNUPG",
	}
)

// Logger wraps zap.Logger with secret redaction
type Logger struct {
	*zap.Logger
}

// NewLogger creates a production logger with JSON encoding and secret redaction
func NewLogger(level string) (*Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{Logger: logger}, nil
}

// ForOperation returns a logger that writes structured entries to stdout
// and to <logRootPath>/<customer>/<op>.log, tagged with customer and op.
// It is built from zap's production config, not derived from l: l's level
// and sinks are not inherited.
func (l *Logger) ForOperation(logRootPath, customer, op string) (*Logger, error) {
	dir := filepath.Join(logRootPath, customer)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	logPath := filepath.Join(dir, op+".log")

	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stdout", logPath}
	cfg.ErrorOutputPaths = []string{"stderr", logPath}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	fileLogger, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{Logger: fileLogger.With(zap.String("customer", customer), zap.String("op", op))}, nil
}

// RedactString removes backup-domain secrets from a string: credential
// key=value pairs, PEM private-key blocks, and the account half of
// user@host endpoints.
func RedactString(s string) string {
	redacted := kvSecretPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := strings.SplitN(match, "=", 2)
		if len(parts) == 2 {
			return parts[0] + "=***REDACTED***"
		}
		parts = strings.SplitN(match, ":", 2)
		if len(parts) == 2 {
			return parts[0] + ":***REDACTED***"
		}
		return "***REDACTED***"
	})
	redacted = pemKeyPattern.ReplaceAllString(redacted, "***REDACTED PRIVATE KEY***")
	redacted = hostUserPattern.ReplaceAllString(redacted, "***@$1")
	return redacted
}

// RedactEnv redacts sensitive environment variables
func RedactEnv(env []string) []string {
	redacted := make([]string, len(env))
	for i, e := range env {
		key := strings.SplitN(e, "=", 2)[0]
		shouldRedact := false
		for _, pattern := range secretEnvKeys {
			if strings.Contains(strings.ToUpper(key), pattern) {
				shouldRedact = true
				break
			}
		}
		if shouldRedact {
			redacted[i] = key + "=***REDACTED***"
		} else {
			redacted[i] = e
		}
	}
	return redacted
}

// InfoRedacted logs with automatic secret redaction
func (l *Logger) InfoRedacted(msg string, fields ...zap.Field) {
	redactedFields := make([]zap.Field, len(fields))
	for i, f := range fields {
		if f.Type == zapcore.StringType {
			redactedFields[i] = zap.String(f.Key, RedactString(f.String))
		} else {
			redactedFields[i] = f
		}
	}
	l.Info(RedactString(msg), redactedFields...)
}

// ErrorRedacted logs errors with automatic secret redaction
func (l *Logger) ErrorRedacted(msg string, fields ...zap.Field) {
	redactedFields := make([]zap.Field, len(fields))
	for i, f := range fields {
		if f.Type == zapcore.StringType {
			redactedFields[i] = zap.String(f.Key, RedactString(f.String))
		} else {
			redactedFields[i] = f
		}
	}
	l.Error(RedactString(msg), redactedFields...)
}
