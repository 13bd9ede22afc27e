// Package memory provides a small persistent store of short text memories
// that are retrieved by meaning rather than by keyword.
//
// Architecture:
//   - Embedder: text-to-vector conversion (see memory/embedder for the lazily
//     loaded Generator and the pluggable models behind it)
//   - Store: vector storage backend (chromem-go or SQLite)
//   - Manager: validates input, embeds, persists and ranks results
//
// Search converts cosine distance d (0 = same direction, 2 = opposite) into a
// relevance percentage max(0, (2-d)/2*100) rounded to one decimal place. No
// minimum relevance is applied; the caller judges usefulness.
//
// The record set is append-only: there is no update or delete.
package memory
