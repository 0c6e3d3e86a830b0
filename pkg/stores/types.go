package stores

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is wrapped by every lookup that finds no live entity.
var ErrNotFound = errors.New("not found")

// IsNotFound reports whether err is a lookup miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// OwnerKind names the entity kinds that own path mappings, placements and
// resource attachments.
type OwnerKind string

const (
	OwnerPage     OwnerKind = "page"
	OwnerTemplate OwnerKind = "template"
	OwnerContent  OwnerKind = "content"
)

// ResourceType distinguishes stylesheet and script attachments.
type ResourceType string

const (
	ResourceCSS ResourceType = "css"
	ResourceJS  ResourceType = "js"
)

// Workflow states written on new sites.
const (
	WorkflowDraft     = "draft"
	WorkflowReview    = "review"
	WorkflowPublished = "published"
)

// SecurityLevelSharedSecret is the minimum security level given to
// permissions created from page declarations.
const SecurityLevelSharedSecret = "shared_secret"

// Site is a persisted site.
type Site struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	PrimaryLocale     string    `json:"primary_locale"`
	DefaultTimezone   string    `json:"default_timezone"`
	DefaultHostnameID *int64    `json:"default_hostname_id,omitempty"`
	WorkflowStates    []string  `json:"workflow_states"`
	CreatedBy         string    `json:"created_by"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// InitialState returns the first workflow state of the site.
func (s *Site) InitialState() string {
	if len(s.WorkflowStates) == 0 {
		return WorkflowDraft
	}
	return s.WorkflowStates[0]
}

// FinalState returns the last workflow state of the site.
func (s *Site) FinalState() string {
	if len(s.WorkflowStates) == 0 {
		return WorkflowPublished
	}
	return s.WorkflowStates[len(s.WorkflowStates)-1]
}

// Hostname is an address bound to exactly one site.
type Hostname struct {
	ID            int64     `json:"id"`
	SiteID        int64     `json:"site_id"`
	Address       string    `json:"address"`
	WelcomePageID *int64    `json:"welcome_page_id,omitempty"`
	IsDefault     bool      `json:"is_default"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Layout is a persisted layout. Its boxes are stored separately.
type Layout struct {
	ID        int64     `json:"id"`
	SiteID    int64     `json:"site_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Box is a placement slot of a layout.
type Box struct {
	ID                 int64  `json:"id"`
	LayoutID           int64  `json:"layout_id"`
	ParentID           *int64 `json:"parent_id,omitempty"`
	Name               string `json:"name"`
	BoxType            string `json:"box_type"`
	DefaultContentArea bool   `json:"default_content_area"`
	HTMLID             string `json:"html_id"`
	HTMLClass          string `json:"html_class"`
	Position           int    `json:"position"`
}

// Template is a persisted page blueprint.
type Template struct {
	ID        int64     `json:"id"`
	SiteID    int64     `json:"site_id"`
	Name      string    `json:"name"`
	HTMLID    string    `json:"html_id"`
	LayoutID  int64     `json:"layout_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Page is a persisted page.
type Page struct {
	ID                   int64     `json:"id"`
	SiteID               int64     `json:"site_id"`
	Name                 string    `json:"name"`
	TemplateID           *int64    `json:"template_id,omitempty"`
	LayoutID             int64     `json:"layout_id"`
	PermissionID         *int64    `json:"permission_id,omitempty"`
	AuthenticationPageID *int64    `json:"authentication_page_id,omitempty"`
	Trashed              bool      `json:"trashed"`
	CreatedBy            string    `json:"created_by"`
	LastModifiedBy       string    `json:"last_modified_by"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// ContentElement is a persisted content element. Its data lives in revisions.
type ContentElement struct {
	ID                int64     `json:"id"`
	SiteID            int64     `json:"site_id"`
	Name              string    `json:"name"`
	Kind              string    `json:"kind"`
	HTMLID            string    `json:"html_id"`
	HTMLClass         string    `json:"html_class"`
	CurrentRevisionID *int64    `json:"current_revision_id,omitempty"`
	Trashed           bool      `json:"trashed"`
	LastModifiedBy    string    `json:"last_modified_by"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Revision is an immutable dataset of a content element.
type Revision struct {
	ID        int64     `json:"id"`
	ContentID int64     `json:"content_id"`
	Number    int       `json:"number"`
	Locale    string    `json:"locale"`
	Data      string    `json:"data"` // JSON blob
	State     string    `json:"state"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

// Delegate links a child content element to its parent.
type Delegate struct {
	ID       int64  `json:"id"`
	ParentID int64  `json:"parent_id"`
	ChildID  int64  `json:"child_id"`
	Purpose  string `json:"purpose"`
	Position int    `json:"position"`
}

// Placement is one entry of a slot's ordered content list.
type Placement struct {
	ID        int64     `json:"id"`
	OwnerKind OwnerKind `json:"owner_kind"`
	OwnerID   int64     `json:"owner_id"`
	BoxID     int64     `json:"box_id"`
	ContentID int64     `json:"content_id"`
	Position  int       `json:"position"`
}

// PathMapping binds a clean path to one entity of a site.
type PathMapping struct {
	ID        int64     `json:"id"`
	SiteID    int64     `json:"site_id"`
	Path      string    `json:"path"`
	Wildcard  bool      `json:"wildcard"`
	OwnerKind OwnerKind `json:"owner_kind"`
	OwnerID   int64     `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Permission guards pages of a site.
type Permission struct {
	ID                   int64     `json:"id"`
	SiteID               int64     `json:"site_id"`
	ProgrammaticName     string    `json:"programmatic_name"`
	DisplayName          string    `json:"display_name"`
	MinimumSecurityLevel string    `json:"minimum_security_level"`
	CreatedAt            time.Time `json:"created_at"`
}

// RegisteredLink records the page an application function routes to.
type RegisteredLink struct {
	ID           int64     `json:"id"`
	SiteID       int64     `json:"site_id"`
	FunctionName string    `json:"function_name"`
	PageID       int64     `json:"page_id"`
	Link         string    `json:"link"`
	CreatedAt    time.Time `json:"created_at"`
}

// ResourceAttachment attaches a stylesheet or script to an entity.
type ResourceAttachment struct {
	ID           int64        `json:"id"`
	OwnerKind    OwnerKind    `json:"owner_kind"`
	OwnerID      int64        `json:"owner_id"`
	ResourceType ResourceType `json:"resource_type"`
	Path         string       `json:"path"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Library is a shared file registered with a site.
type Library struct {
	ID          int64     `json:"id"`
	SiteID      int64     `json:"site_id"`
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	LibraryType string    `json:"library_type"`
	CreatedAt   time.Time `json:"created_at"`
}

// AuditEntry represents an audit trail entry
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`              // e.g., "site.applied"
	Actor     string    `json:"actor"`               // user or system identifier
	TargetID  *string   `json:"target_id,omitempty"` // site name
	Details   *string   `json:"details,omitempty"`   // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support. InTx commits when fn returns nil; DryRun always
	// rolls back. Calls on a store already bound to a transaction reuse it.
	InTx(ctx context.Context, fn func(Store) error) error
	DryRun(ctx context.Context, fn func(Store) error) error

	// Site operations
	GetSiteByName(ctx context.Context, name string) (*Site, error)
	CreateSite(ctx context.Context, site *Site) error
	UpdateSite(ctx context.Context, site *Site) error

	// Hostname operations
	GetHostname(ctx context.Context, address string) (*Hostname, error)
	ListHostnames(ctx context.Context, siteID int64) ([]*Hostname, error)
	CreateHostname(ctx context.Context, host *Hostname) error
	UpdateHostname(ctx context.Context, host *Hostname) error

	// Layout operations
	GetLayout(ctx context.Context, siteID int64, name string) (*Layout, error)
	CreateLayout(ctx context.Context, layout *Layout) error
	ListBoxes(ctx context.Context, layoutID int64) ([]*Box, error)
	CreateBox(ctx context.Context, box *Box) error
	UpdateBox(ctx context.Context, box *Box) error

	// Template operations
	GetTemplate(ctx context.Context, siteID int64, name string) (*Template, error)
	CreateTemplate(ctx context.Context, tmpl *Template) error
	UpdateTemplate(ctx context.Context, tmpl *Template) error

	// Page operations
	GetPage(ctx context.Context, siteID int64, name string) (*Page, error)
	ListPages(ctx context.Context, siteID int64) ([]*Page, error)
	CreatePage(ctx context.Context, page *Page) error
	UpdatePage(ctx context.Context, page *Page) error
	TrashPage(ctx context.Context, id int64) error

	// Content operations
	GetContent(ctx context.Context, siteID int64, name string) (*ContentElement, error)
	GetContentByID(ctx context.Context, id int64) (*ContentElement, error)
	ListContent(ctx context.Context, siteID int64) ([]*ContentElement, error)
	CreateContent(ctx context.Context, content *ContentElement) error
	UpdateContent(ctx context.Context, content *ContentElement) error
	TrashContent(ctx context.Context, id int64) error

	// Revision operations
	CreateRevision(ctx context.Context, rev *Revision) (*ContentElement, error)
	GetRevision(ctx context.Context, id int64) (*Revision, error)
	ListRevisions(ctx context.Context, contentID int64) ([]*Revision, error)

	// Delegate operations
	ListDelegates(ctx context.Context, parentID int64) ([]*Delegate, error)
	ReplaceDelegates(ctx context.Context, parentID int64, delegates []*Delegate) error

	// Placement operations
	ListPlacements(ctx context.Context, kind OwnerKind, ownerID, boxID int64) ([]*Placement, error)
	ReplacePlacements(ctx context.Context, kind OwnerKind, ownerID, boxID int64, contentIDs []int64) error

	// PathMapping operations
	FindMappingByOwner(ctx context.Context, kind OwnerKind, ownerID int64) (*PathMapping, error)
	FindExactMapping(ctx context.Context, siteID int64, path string) (*PathMapping, error)
	ListMappings(ctx context.Context, siteID int64) ([]*PathMapping, error)
	CreateMapping(ctx context.Context, mapping *PathMapping) error
	SaveMapping(ctx context.Context, mapping *PathMapping) error

	// Permission operations
	GetPermission(ctx context.Context, siteID int64, programmaticName string) (*Permission, error)
	CreatePermission(ctx context.Context, perm *Permission) error

	// RegisteredLink operations
	FindRegisteredLink(ctx context.Context, siteID int64, functionName, link string) (*RegisteredLink, error)
	CreateRegisteredLink(ctx context.Context, link *RegisteredLink) error

	// ResourceAttachment operations
	AttachResource(ctx context.Context, res *ResourceAttachment) (bool, error)
	ListResources(ctx context.Context, kind OwnerKind, ownerID int64) ([]*ResourceAttachment, error)

	// Library operations
	GetLibrary(ctx context.Context, siteID int64, name string) (*Library, error)
	FindLibrariesByPath(ctx context.Context, siteID int64, path string) ([]*Library, error)
	CreateLibrary(ctx context.Context, lib *Library) error

	// Site component operations
	AssignComponent(ctx context.Context, siteID int64, componentID string) (bool, error)
	ListComponents(ctx context.Context, siteID int64) ([]string, error)

	// Audit operations
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, action *string, actor *string, limit, offset int) ([]*AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
