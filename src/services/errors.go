package services

import "errors"

// Input errors reported immediately to the caller; the engine performs no
// partial computation when one of these fires. Data-integrity anomalies are
// never errors — they travel as flags on the per-batch results.
var (
	ErrUnknownBatch  = errors.New("unknown batch")
	ErrInvalidWindow = errors.New("invalid reconciliation window")
	ErrBalanceFetch  = errors.New("opening balance fetch failed")
)
