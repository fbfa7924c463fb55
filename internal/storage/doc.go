// Package storage holds the in-memory data path of the nibble device.
//
// Architecture:
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│  Assembler  │────▶│ Byte Queue  │────▶│   Ingest    │
//	│ (producer)  │     │   (ring)    │     │   Worker    │
//	└─────────────┘     └─────────────┘     └─────────────┘
//	       │                                       │
//	       ▼                                       ▼
//	┌─────────────┐                         ┌─────────────┐
//	│   Session   │◀────────────────────────│ Paged Store │
//	│   Tracker   │        reader           │             │
//	└─────────────┘                         └─────────────┘
//
// Subpackages:
//   - buffer: lock-free single-producer rings for bytes and session sizes
//   - session: finalized session table plus the read and write cursors
//   - pages: fixed-size page store with a bounded page allocator
//   - ingestion: nibble assembly and the queue-to-store worker
//   - backpressure: page-budget pressure levels with hysteresis
//   - config: YAML configuration, validation and memory requirements
//   - export: session drainer with Parquet and framed-wire sinks
//
// There is no persistence: every page lives in memory and is freed when the
// device stops.
package storage
