// Package knowledge indexes the support policy corpus and serves ranked
// passage retrieval to the supervisor and specialist agents.
//
// Retrieval is read-only and bounded: a search that cannot complete
// within the configured timeout returns an empty result set instead of
// failing the caller. Keyword search uses SQLite FTS5; when an embedding
// provider is configured a sqlite-vec index adds a vector leg and the
// two scores are merged.
package knowledge
