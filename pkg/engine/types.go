package engine

import (
	"fmt"
	"time"
)

// EntityKind names the persisted entity kinds an apply can touch.
type EntityKind string

const (
	EntitySite           EntityKind = "site"
	EntityHostname       EntityKind = "hostname"
	EntityLayout         EntityKind = "layout"
	EntityBox            EntityKind = "box"
	EntityTemplate       EntityKind = "template"
	EntityPage           EntityKind = "page"
	EntityContent        EntityKind = "content"
	EntityPathMapping    EntityKind = "path_mapping"
	EntityPermission     EntityKind = "permission"
	EntityRegisteredLink EntityKind = "registered_link"
	EntityResource       EntityKind = "resource"
	EntityLibrary        EntityKind = "library"
	EntityComponent      EntityKind = "component"
	EntityPlacement      EntityKind = "placement"
	EntityDelegate       EntityKind = "delegate"
)

// OperationType represents what an apply did to one entity.
type OperationType string

const (
	// OperationCreate indicates a new entity was persisted.
	OperationCreate OperationType = "create"

	// OperationUpdate indicates declared attributes were written in place.
	OperationUpdate OperationType = "update"

	// OperationTrash indicates an entity was soft-deleted.
	OperationTrash OperationType = "trash"

	// OperationRevise indicates a new immutable content revision was created.
	OperationRevise OperationType = "revise"

	// OperationRename indicates an existing path mapping moved to a new path.
	OperationRename OperationType = "rename"

	// OperationNoop indicates the entity already matched the declaration.
	OperationNoop OperationType = "noop"
)

// IsMutating returns true if the operation wrote to the store.
func (o OperationType) IsMutating() bool {
	return o != OperationNoop
}

// Validate checks if the operation type is valid.
func (o OperationType) Validate() error {
	switch o {
	case OperationCreate, OperationUpdate, OperationTrash,
		OperationRevise, OperationRename, OperationNoop:
		return nil
	default:
		return fmt.Errorf("invalid operation type: %s", o)
	}
}

// Change is one persisted write made by an apply.
type Change struct {
	// Kind is the entity kind that was written.
	Kind EntityKind `json:"kind"`

	// Name identifies the entity within its site, e.g. the page name or a
	// clean path for path mappings.
	Name string `json:"name"`

	// Operation is what was done.
	Operation OperationType `json:"operation"`

	// Detail is an optional human-readable note ("home -> index").
	Detail string `json:"detail,omitempty"`
}

// String renders the change for logs and CLI output.
func (c Change) String() string {
	if c.Detail != "" {
		return fmt.Sprintf("%s %s %s (%s)", c.Operation, c.Kind, c.Name, c.Detail)
	}
	return fmt.Sprintf("%s %s %s", c.Operation, c.Kind, c.Name)
}

// ApplySummary aggregates the changes of one apply.
type ApplySummary struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Trashed   int `json:"trashed"`
	Revisions int `json:"revisions"`
	Renamed   int `json:"renamed"`
	Unchanged int `json:"unchanged"`
}

// Total returns the number of writes.
func (s ApplySummary) Total() int {
	return s.Created + s.Updated + s.Trashed + s.Revisions + s.Renamed
}

// ApplyResult describes one apply of a declared site.
type ApplyResult struct {
	// RunID uniquely identifies the apply.
	RunID string `json:"run_id"`

	// Site is the declared site name.
	Site string `json:"site"`

	// DryRun is true when every write was rolled back.
	DryRun bool `json:"dry_run"`

	// Actor is the identity stamped on created and modified entities.
	Actor string `json:"actor"`

	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`

	// Changes lists every write in the order it was made.
	Changes []Change `json:"changes"`

	Summary ApplySummary `json:"summary"`

	// PolicyWarnings lists advisory policy findings.
	PolicyWarnings []PolicyViolation `json:"policy_warnings,omitempty"`
}

func newApplyResult(runID, site, actor string, dryRun bool, started time.Time) *ApplyResult {
	return &ApplyResult{
		RunID:     runID,
		Site:      site,
		DryRun:    dryRun,
		Actor:     actor,
		StartedAt: started,
		Changes:   make([]Change, 0),
	}
}

func (r *ApplyResult) record(kind EntityKind, name string, op OperationType, detail string) {
	switch op {
	case OperationCreate:
		r.Summary.Created++
	case OperationUpdate:
		r.Summary.Updated++
	case OperationTrash:
		r.Summary.Trashed++
	case OperationRevise:
		r.Summary.Revisions++
	case OperationRename:
		r.Summary.Renamed++
	case OperationNoop:
		r.Summary.Unchanged++
		return
	}
	r.Changes = append(r.Changes, Change{Kind: kind, Name: name, Operation: op, Detail: detail})
}

// Count returns the number of changes of one kind and operation.
func (r *ApplyResult) Count(kind EntityKind, op OperationType) int {
	n := 0
	for _, c := range r.Changes {
		if c.Kind == kind && c.Operation == op {
			n++
		}
	}
	return n
}

// HasChanges reports whether the apply wrote anything.
func (r *ApplyResult) HasChanges() bool {
	return len(r.Changes) > 0
}
