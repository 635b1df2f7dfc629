package utils

import (
	"time"
)

// Token and session time constants
const (
	// AccessTokenTTL is the time-to-live for access tokens (24 hours)
	AccessTokenTTL = 24 * time.Hour
)

// MetricsNamespace prefixes every Prometheus metric the service exports
const MetricsNamespace = "evoteli"

// Alerting constants
const (
	DefaultAlertHour      = 9
	MaxPageLimit          = 500
	AlertEmailSubjectBase = "New Properties Match Your Search"
)

// Audience sync constants
const (
	DefaultSyncFrequencyHours = 24
	DefaultUploadBatchSize    = 10000
	DefaultMaxProperties      = 50000
)
