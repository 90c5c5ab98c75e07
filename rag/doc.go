// Package rag orchestrates the retrieval and generation stages.
//
// Indexing splits a document twice: large parent chunks go to the docstore as
// the context unit, small child chunks go to the vector index as the search
// unit. Retrieval searches children, resolves them back to parents, optionally
// reranks and expands with stored neighbors, and emits source passages in
// document reading order. Generation runs a rewrite gate over the user
// message, builds a token-budgeted context block from the retrieved passages
// and streams the answer with stop-sequence and cancellation handling.
package rag
