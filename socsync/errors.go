package socsync

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

var (
	ErrRunCancelled      = errors.New("sync run cancelled")
	ErrRunNotFound       = errors.New("sync run not found")
	ErrInvalidTransition = errors.New("invalid sync run transition")
	ErrInvalidKind       = errors.New("type must be one of company, employee, absenteeism")
	ErrInvalidRequest    = errors.New("invalid sync request")
)

const maxSampleBytes = 512

// ConfigurationError means the owner's SOC parameters cannot be assembled.
type ConfigurationError struct {
	Owner string
	Kind  string
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("soc configuration incomplete for %s sync: missing %s", e.Kind, e.Field)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("soc %s failed: %v", e.Op, e.Err) }

func (e *NetworkError) Unwrap() error { return e.Err }

type TimeoutError struct {
	After time.Duration
	Err   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("soc request timed out after %s", e.After)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

type HTTPStatusError struct {
	StatusCode int
	Sample     string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("soc api error %d: %s", e.StatusCode, e.Sample)
}

// BadResponseError carries a truncated sample of the offending body.
type BadResponseError struct {
	Reason string
	Sample string
}

func (e *BadResponseError) Error() string {
	return fmt.Sprintf("soc returned an invalid response (%s): %s", e.Reason, e.Sample)
}

// RecordProcessingError marks a single record as failed. It never aborts a batch.
type RecordProcessingError struct {
	Index  int
	Field  string
	Reason string
}

func (e *RecordProcessingError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("record %d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("record %d: field %s %s", e.Index, e.Field, e.Reason)
}

type AlreadyRunningError struct {
	RunID  uint
	Kind   string
	Status string
}

func (e *AlreadyRunningError) Error() string {
	if e.RunID == 0 {
		return "another sync is being started for this account"
	}
	return fmt.Sprintf("a %s sync is already running (id=%d, status=%s)", e.Kind, e.RunID, e.Status)
}

func sample(body []byte) string {
	if len(body) <= maxSampleBytes {
		return string(body)
	}
	cut := maxSampleBytes
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return string(body[:cut]) + "..."
}
