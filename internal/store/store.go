// Package store implements the external Store contract (C2): sparse-merge
// section upserts, whole-document code-architecture replace, checkpoint
// and failure persistence, and the query iterators the pipeline stages
// need to find pending work.
package store

import (
	"context"
	"iter"

	"github.com/lexpipe/lexpipe/internal/model"
)

// FailureFilter narrows a ListFailures query.
type FailureFilter struct {
	Stage       model.Stage
	RetryStatus model.RetryStatus
	Retryable   *bool
}

// Store is the persistence contract every pipeline stage depends on. All
// operations present synchronous semantics from the caller's view; a
// concrete implementation is free to pipeline network I/O internally.
// See §4.2.
type Store interface {
	// UpsertSection writes fields for (code, sectionID) if absent, or
	// applies a sparse merge: null/zero-value fields in the patch never
	// overwrite non-null persisted values. created_at is set on insert
	// only.
	UpsertSection(ctx context.Context, code, sectionID string, patch SectionPatch) error

	// BulkUpsertSections applies UpsertSection's semantics for a batch of
	// patches.
	BulkUpsertSections(ctx context.Context, patches []SectionPatch) error

	// GetSection fetches one section, or (nil, nil) if absent.
	GetSection(ctx context.Context, code, sectionID string) (*model.Section, error)

	// PutCodeArchitecture whole-document replaces the tree/manifest/
	// statistics for code, additively unioning MultiVersionIDs with
	// whatever is already persisted.
	PutCodeArchitecture(ctx context.Context, arch *model.CodeArchitecture) error

	// GetCodeArchitecture fetches the architecture document for code, or
	// (nil, nil) if absent.
	GetCodeArchitecture(ctx context.Context, code string) (*model.CodeArchitecture, error)

	// SaveCheckpoint persists a checkpoint, keyed by (code, stage).
	SaveCheckpoint(ctx context.Context, cp *model.Checkpoint) error

	// LoadCheckpoint fetches the checkpoint for (code, stage), or
	// (nil, nil) if absent.
	LoadCheckpoint(ctx context.Context, code string, stage model.Stage) (*model.Checkpoint, error)

	// LogFailure persists a new failure record or, if one already exists
	// for (code, sectionID), appends to its retry history.
	LogFailure(ctx context.Context, rec *model.FailureRecord) error

	// ListFailures returns failures for code matching filter.
	ListFailures(ctx context.Context, code string, filter FailureFilter) ([]*model.FailureRecord, error)

	// UpdateRetryStatus transitions a failure record's retry_status.
	UpdateRetryStatus(ctx context.Context, code, sectionID string, status model.RetryStatus) error

	// IterPendingSections yields URLs for sections in code that have not
	// yet been extracted (has_content is false and not multi-version).
	IterPendingSections(ctx context.Context, code string) iter.Seq[string]

	// IterMultiVersionSections yields section ids flagged as
	// multi-version for code.
	IterMultiVersionSections(ctx context.Context, code string) iter.Seq[string]

	// CountHasContent returns how many sections in code satisfy
	// has_content.
	CountHasContent(ctx context.Context, code string) (int, error)

	// Close releases any held connections.
	Close(ctx context.Context) error
}

// SectionPatch is the sparse-merge input to UpsertSection /
// BulkUpsertSections: nil pointer fields are untouched by the merge.
type SectionPatch struct {
	Code               string
	SectionID          string
	URL                *string
	Content            *string
	RawContent         *string
	LegislativeHistory *string
	IsMultiVersion     *bool
	Versions           []model.Version // nil means "don't touch"; non-nil replaces wholesale
	Division           *string
	Part               *string
	Title              *string
	Chapter            *string
	Article            *string
}
