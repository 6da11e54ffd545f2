// Package memerr defines the error taxonomy shared by the ingestion and
// retrieval pipelines. Callers classify failures with errors.As and decide
// retry behavior via Retryable.
package memerr

import (
	"errors"
	"fmt"
	"strings"
)

// ProviderError wraps a failure of an external LLM or embedding capability
// (quota, auth, transport, malformed provider output). Retryable with backoff.
type ProviderError struct {
	Op  string // "chat", "embed", "extract"
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// PersistenceError wraps a storage-unavailable failure. Retryable.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// DanglingReferenceError means a link was requested against a node that does
// not exist. It indicates a linker defect upstream and is never retried; the
// full edge payload is carried for diagnosis.
type DanglingReferenceError struct {
	SourceID string
	TargetID string
	Relation string
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("dangling reference: %s -[%s]-> %s", e.SourceID, e.Relation, e.TargetID)
}

// ExtractionError means the extraction capability returned unusable output.
// It fails the whole ingest call; hot-path notes already written stay durable.
type ExtractionError struct {
	Err    error
	Output string // raw provider output, truncated, for diagnosis
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed: %v", e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// PartialIngestError reports a cold path that was applied partway. Completed
// holds the IDs that were persisted; Failed describes what was not, so the
// caller can decide whether to re-ingest.
type PartialIngestError struct {
	Completed []string
	Failed    []string
}

func (e *PartialIngestError) Error() string {
	return fmt.Sprintf("partial ingest: %d completed, %d failed (%s)",
		len(e.Completed), len(e.Failed), strings.Join(e.Failed, "; "))
}

// RetrievalError means vector search or graph crawl failed. The whole
// get_context call fails; there is no silent empty-context fallback.
type RetrievalError struct {
	Stage string // "expand", "static", "vector", "crawl"
	Err   error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval %s: %v", e.Stage, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// Retryable reports whether err is worth retrying with backoff.
func Retryable(err error) bool {
	var pe *ProviderError
	var se *PersistenceError
	return errors.As(err, &pe) || errors.As(err, &se)
}
