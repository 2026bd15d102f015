package core

import "time"

// VisitRetention is the rolling window kept for visit records.
const VisitRetention = 30 * 24 * time.Hour

// Timeout defaults for capture operations
const (
	DefaultCaptureTimeout   = 35 * time.Second
	DefaultNetworkIdleDelay = 500 * time.Millisecond
)

// DoctypePrefix is prepended to every serialized snapshot.
const DoctypePrefix = "<!DOCTYPE html>\n"
