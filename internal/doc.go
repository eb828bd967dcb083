// Package internal documents the retriever internals.
//
// The internal tree is organized by responsibility:
// - api: HTTP handlers, middleware and routing
// - domain: source registry, users and search history
// - connectors: SQL and file adapters behind one Source interface
// - search, redact, export: fan-out search, policy masking and report writers
// - engine: wiring shared by the server, the CLI and the MCP server
// - storage: Postgres repositories and migrations
// - jobs: River workers for exports and retention
// - auth, audit, config, metrics, telemetry, validation: shared infrastructure
//
// Code in internal/ is not meant for external import.
package internal
