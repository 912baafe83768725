// Package domain holds the value types shared by the composition engine.
//
// Everything in this package is pure: layers, resolution decisions,
// validation results, merge results, snapshot identifiers and retention
// policies are plain values with no I/O attached. The imperative shell
// (internal/shell/...) reads and writes them through a storage backend.
//
// # Layers
//
//   - BASE: shared product tree, read-only to the engine
//   - CUSTOM: tenant overrides and add-ons, read-only to the engine
//   - RUNTIME: derived composition, rebuilt from scratch on every merge
//   - REWORK: quarantined files that failed validation
//
// # Snapshot identifiers
//
// A snapshot is named "{baseVersion}-custom.{increment}", for example
// "1.2.0-custom.3". See FormatVersion and ParseVersion.
package domain
