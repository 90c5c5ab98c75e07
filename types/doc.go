// Package types provides the shared value types of the retrieval pipeline.
//
// The types package is the lowest-level package with no internal dependencies,
// so placing the chunk and chat types here avoids circular imports between the
// docstore, vectorindex, and rag packages.
package types
