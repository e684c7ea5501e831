// Package knowledge provides a two-tier cache of "lessons" (recorded text
// snippets with semantic embeddings) for prompt enrichment.
//
// A task description is embedded, matched against previously ingested
// lessons by cosine similarity, and the best matches are formatted into a
// context block the caller can prepend to a prompt.
//
// Architecture:
//   - Store: durable lesson tier (disk-backed store, chromem-go for in-memory)
//   - SessionCache: bounded in-memory result cache with recency+frequency eviction
//   - Embedder: text-to-vector conversion (mock for tests, ONNX for local, cached decorator)
//   - Manager: routes lookups between the session tier and the store
//   - PackStore: query-time context assembly for callers
//
// The cache is an optimization layer, not a source of truth: a lost or
// corrupt index is rebuilt from stored lesson content, and an unreachable
// storage medium degrades to a cold start rather than an error.
package knowledge
