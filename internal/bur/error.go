// Package bur defines the error kinds shared across the backup pipeline.
package bur

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a pipeline failure. Kinds are compared
// with errors.Is, never by string matching.
type Kind string

const (
	KindConfig                   Kind = "ConfigError"
	KindDiskSpace                Kind = "DiskSpaceError"
	KindEncode                   Kind = "EncodeError"
	KindDecode                   Kind = "DecodeError"
	KindTransfer                 Kind = "TransferError"
	KindSSH                      Kind = "SSHError"
	KindUnknownBackupTag         Kind = "UnknownBackupTag"
	KindMissingSuccessFlag       Kind = "MissingSuccessFlag"
	KindNoVolumeList             Kind = "NoVolumeList"
	KindMetadataValidationFailed Kind = "MetadataValidationFailed"
	KindMissingVolume            Kind = "MissingVolume"
	KindDownloadProcessFailed    Kind = "DownloadProcessFailed"
	KindRetentionRemovalFailed   Kind = "RetentionRemovalFailed"
)

// Error is the single error type used across the pipeline: a Kind plus an
// optional wrapped cause. Callers distinguish failures with errors.Is against
// a sentinel built from New(kind, "") or with As to recover the Kind.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		if e.Message == "" {
			return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
		}
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *Error with the same Kind. It allows
// errors.Is(err, bur.New(bur.KindTransfer, "")) style comparisons.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf extracts the Kind from err, walking the wrap chain. The second
// return value is false if no *Error is present anywhere in the chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
