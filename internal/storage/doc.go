package storage

// Package storage is oratio's durable persistence layer.
//
// It currently backs:
//   - The slot ledger (slot key -> completion time) guaranteeing
//     at-most-once launches across restarts
//   - Operator settings (cadence, family toggles)
//   - Generated binary payloads (audio, images) keyed by artifact id
//   - The timestamp-descending generation history
