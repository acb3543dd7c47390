package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	GuardScopeKind  = "kind"
	GuardScopeOwner = "owner"

	ContinuationModePubSub = "pubsub"
	ContinuationModeInline = "inline"

	CharsetWindows1252 = "windows-1252"
	CharsetISO88591    = "iso-8859-1"
	CharsetUTF8        = "utf-8"
)

// SyncSettings holds the tunables of the SOC sync pipeline.
type SyncSettings struct {
	BaseURL            string        `validate:"required,url"`
	Charset            string        `validate:"oneof=windows-1252 iso-8859-1 utf-8"`
	FetchTimeout       time.Duration `validate:"gt=0"`
	FetchRatePerSecond float64       `validate:"gt=0"`
	MaxBodyBytes       int64         `validate:"gt=0"`
	PhoneRegion        string        `validate:"len=2"`

	DefaultBatchSize     int `validate:"min=1,ltefield=MaxBatchSize"`
	MaxBatchSize         int `validate:"min=1,max=5000"`
	DefaultMaxConcurrent int `validate:"min=1,ltefield=MaxConcurrentCap"`
	MaxConcurrentCap     int `validate:"min=1,max=32"`
	SubBatchSize         int `validate:"min=1,max=1000"`

	ExecutionBudget time.Duration `validate:"gt=0"`
	SafetyMargin    time.Duration `validate:"gte=0,ltfield=ExecutionBudget"`

	GuardScope       string `validate:"oneof=kind owner"`
	ContinuationMode string `validate:"oneof=pubsub inline"`
	Topic            string `validate:"required_if=ContinuationMode pubsub"`
	Subscription     string
	CreateTopic      bool

	SnapshotBucket string
	StaleAfter     time.Duration `validate:"gt=0"`
	ReaperSchedule string
}

func DefaultSyncSettings() SyncSettings {
	return SyncSettings{
		BaseURL:              "https://ws1.soc.com.br/WebSoc/exportadados",
		Charset:              CharsetWindows1252,
		FetchTimeout:         60 * time.Second,
		FetchRatePerSecond:   2,
		MaxBodyBytes:         64 << 20,
		PhoneRegion:          "BR",
		DefaultBatchSize:     50,
		MaxBatchSize:         1000,
		DefaultMaxConcurrent: 3,
		MaxConcurrentCap:     10,
		SubBatchSize:         100,
		ExecutionBudget:      400 * time.Second,
		SafetyMargin:         60 * time.Second,
		GuardScope:           GuardScopeKind,
		ContinuationMode:     ContinuationModeInline,
		Topic:                "soc-sync-continuations",
		Subscription:         "soc-sync-continuations-worker",
		StaleAfter:           800 * time.Second,
		ReaperSchedule:       "@every 1m",
	}
}

// LoadSyncSettings overlays SOC_* / SYNC_* env vars on the defaults and validates the result.
func LoadSyncSettings() (SyncSettings, error) {
	s := DefaultSyncSettings()

	s.BaseURL = stringFromEnv("SOC_BASE_URL", s.BaseURL)
	s.Charset = strings.ToLower(stringFromEnv("SOC_CHARSET", s.Charset))
	s.FetchTimeout = secondsFromEnv("SOC_FETCH_TIMEOUT_SECONDS", s.FetchTimeout)
	s.FetchRatePerSecond = floatFromEnv("SOC_FETCH_RATE_PER_SECOND", s.FetchRatePerSecond)
	s.MaxBodyBytes = int64(intFromEnv("SOC_MAX_BODY_BYTES", int(s.MaxBodyBytes)))
	s.PhoneRegion = strings.ToUpper(stringFromEnv("SOC_PHONE_REGION", s.PhoneRegion))

	s.DefaultBatchSize = intFromEnv("SYNC_BATCH_SIZE", s.DefaultBatchSize)
	s.MaxBatchSize = intFromEnv("SYNC_MAX_BATCH_SIZE", s.MaxBatchSize)
	s.DefaultMaxConcurrent = intFromEnv("SYNC_MAX_CONCURRENT", s.DefaultMaxConcurrent)
	s.MaxConcurrentCap = intFromEnv("SYNC_MAX_CONCURRENT_CAP", s.MaxConcurrentCap)
	s.SubBatchSize = intFromEnv("SYNC_SUB_BATCH_SIZE", s.SubBatchSize)

	s.ExecutionBudget = secondsFromEnv("SYNC_EXECUTION_BUDGET_SECONDS", s.ExecutionBudget)
	s.SafetyMargin = secondsFromEnv("SYNC_SAFETY_MARGIN_SECONDS", s.SafetyMargin)
	s.StaleAfter = secondsFromEnv("SYNC_STALE_AFTER_SECONDS", 2*s.ExecutionBudget)
	s.ReaperSchedule = stringFromEnv("SYNC_REAPER_SCHEDULE", s.ReaperSchedule)

	s.GuardScope = strings.ToLower(stringFromEnv("SYNC_GUARD_SCOPE", s.GuardScope))
	s.ContinuationMode = strings.ToLower(stringFromEnv("SYNC_CONTINUATION_MODE", defaultContinuationMode()))
	s.Topic = stringFromEnv("SOC_SYNC_TOPIC", s.Topic)
	s.Subscription = stringFromEnv("SOC_SYNC_SUBSCRIPTION", s.Subscription)
	s.CreateTopic = EnvBoolDefault("SOC_SYNC_CREATE_TOPIC", false)
	s.SnapshotBucket = stringFromEnv("SOC_SNAPSHOT_BUCKET", "")

	if err := validator.New().Struct(s); err != nil {
		return s, fmt.Errorf("invalid sync settings: %w", err)
	}
	return s, nil
}

// Pub/Sub is used as soon as a project is configured.
func defaultContinuationMode() string {
	if PubSubProjectID() != "" {
		return ContinuationModePubSub
	}
	return ContinuationModeInline
}

func stringFromEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func secondsFromEnv(key string, def time.Duration) time.Duration {
	n := intFromEnv(key, -1)
	if n < 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

func floatFromEnv(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
