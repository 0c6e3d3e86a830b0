package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Blocks reports whether a violation of this severity disallows the apply.
func (s Severity) Blocks() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is one Rego module and the metadata it is loaded with. The Rego
// package must define a "deny" set of violation objects or messages.
type Policy struct {
	Name        string                 `json:"name" yaml:"name"`
	Description string                 `json:"description" yaml:"description"`
	Rego        string                 `json:"rego" yaml:"rego"`
	Severity    Severity               `json:"severity" yaml:"severity"`
	Enabled     bool                   `json:"enabled" yaml:"enabled"`
	Tags        []string               `json:"tags,omitempty" yaml:"tags,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at" yaml:"updated_at"`
}

// PolicyInput is the document policies see as "input".
type PolicyInput struct {
	// Site is the flattened declaration being checked.
	Site *SiteInput `json:"site"`

	// Context provides additional evaluation context.
	Context *PolicyContext `json:"context"`
}

// PolicyContext provides context information for policy evaluation.
type PolicyContext struct {
	// User is the user performing the apply.
	User string `json:"user,omitempty"`

	// Environment is the environment (e.g., "production", "staging").
	Environment string `json:"environment,omitempty"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`

	// Operation is the operation being performed ("apply" or "plan").
	Operation string `json:"operation,omitempty"`

	// Metadata contains additional context metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// SiteInput is a declared site with every reference replaced by an id, so
// the graph of pages, templates and content can be walked in Rego.
type SiteInput struct {
	ID              string          `json:"id"`
	PrimaryLocale   string          `json:"primary_locale"`
	DefaultTimezone string          `json:"default_timezone"`
	Hostnames       []HostnameInput `json:"hostnames"`
	Pages           []PageInput     `json:"pages"`
	Templates       []TemplateInput `json:"templates"`
	Layouts         []LayoutInput   `json:"layouts"`
	Content         []ContentInput  `json:"content"`
	Libraries       []LibraryInput  `json:"libraries"`
	RemoveContent   []string        `json:"remove_content"`
	RemovePages     []string        `json:"remove_pages"`
}

// HostnameInput is a declared hostname.
type HostnameInput struct {
	Address     string `json:"address"`
	WelcomePage string `json:"welcome_page,omitempty"`
}

// SlotInput lists the content ids placed into a slot.
type SlotInput struct {
	Slot    string   `json:"slot"`
	Content []string `json:"content"`
}

// PageInput is a declared page.
type PageInput struct {
	ID         string      `json:"id"`
	Path       string      `json:"path"`
	Template   string      `json:"template,omitempty"`
	Layout     string      `json:"layout,omitempty"`
	Permission string      `json:"permission,omitempty"`
	AuthPage   string      `json:"auth_page,omitempty"`
	Slots      []SlotInput `json:"slots"`
	CSS        []string    `json:"css"`
	JS         []string    `json:"js"`
}

// TemplateInput is a declared template.
type TemplateInput struct {
	ID     string      `json:"id"`
	Layout string      `json:"layout,omitempty"`
	Slots  []SlotInput `json:"slots"`
}

// LayoutInput is a declared layout with its boxes flattened in pre-order.
type LayoutInput struct {
	ID    string   `json:"id"`
	Boxes []string `json:"boxes"`
}

// ContentInput is declared content reachable from the site.
type ContentInput struct {
	ID           string   `json:"id"`
	Kind         string   `json:"kind"`
	Path         string   `json:"path,omitempty"`
	HTMLID       string   `json:"html_id,omitempty"`
	Children     []string `json:"children"`
	Library      string   `json:"library,omitempty"`
	Component    string   `json:"component,omitempty"`
	Function     string   `json:"function,omitempty"`
	RegisterLink bool     `json:"register_link,omitempty"`
}

// LibraryInput is a declared library.
type LibraryInput struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

// PolicyBundle is a versioned set of policies shipped as one file.
type PolicyBundle struct {
	Name        string    `json:"name" yaml:"name"`
	Version     string    `json:"version" yaml:"version"`
	Description string    `json:"description" yaml:"description"`
	Policies    []Policy  `json:"policies" yaml:"policies"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}
