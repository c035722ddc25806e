// Package memory turns conversational turns into durable, searchable
// records and reconstructs relevant context for new prompts.
//
// Pipeline:
//   - Writer: chunks a completed turn, embeds each chunk, inserts records
//     into the store. Partial failures are reported per chunk so callers
//     can retry just the missing pieces.
//   - Retriever: embeds the current query, over-fetches nearest neighbors,
//     filters by time and similarity, dedups chunks of the same turn, and
//     returns a ranked result.
//
// The two external capabilities are behind interfaces:
//   - Store: vector storage (chromem-go for the embedded store, a
//     brute-force in-memory store for dev and tests)
//   - Embedder: text-to-vector conversion (OpenAI API, local ONNX model,
//     deterministic mock for tests). Writer and Retriever must share one
//     Embedder: vectors from different models are never comparable.
//
// Nothing in this package is fatal to the process. Write-path failures
// surface to the caller; retrieval-path failures are designed to degrade
// to an empty result at the conversation layer.
package memory
