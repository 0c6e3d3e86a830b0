package config

import (
	"fmt"
	"time"

	"github.com/openfroyo/sitemodel/pkg/model"
)

// Document is the decoded form of one or more declaration files. Every
// entity is declared once at the top level and referenced by id from the
// others, so a template or a piece of content can be shared by many pages.
type Document struct {
	// Sites lists the sites to apply.
	Sites []SiteConfig `json:"sites" yaml:"sites" validate:"required,min=1,dive"`

	Pages     []PageConfig     `json:"pages,omitempty" yaml:"pages,omitempty" validate:"dive"`
	Templates []TemplateConfig `json:"templates,omitempty" yaml:"templates,omitempty" validate:"dive"`
	Layouts   []*model.Layout  `json:"layouts,omitempty" yaml:"layouts,omitempty" validate:"dive"`
	Content   []ContentConfig  `json:"content,omitempty" yaml:"content,omitempty" validate:"dive"`
	Libraries []*model.Library `json:"libraries,omitempty" yaml:"libraries,omitempty" validate:"dive"`
}

// SiteConfig declares a site. Pages, content and libraries are ids of
// top-level declarations.
type SiteConfig struct {
	ID              string           `json:"id" yaml:"id" validate:"required"`
	PrimaryLocale   string           `json:"primary_locale,omitempty" yaml:"primary_locale,omitempty"`
	DefaultTimezone string           `json:"default_timezone,omitempty" yaml:"default_timezone,omitempty"`
	Hostnames       []HostnameConfig `json:"hostnames" yaml:"hostnames" validate:"dive"`
	Pages           []string         `json:"pages,omitempty" yaml:"pages,omitempty"`
	Content         []string         `json:"content,omitempty" yaml:"content,omitempty"`
	Libraries       []string         `json:"libraries,omitempty" yaml:"libraries,omitempty"`

	// RemoveContent and RemovePages name entities to trash on apply. They
	// do not need a declaration of their own.
	RemoveContent []string `json:"remove_content,omitempty" yaml:"remove_content,omitempty"`
	RemovePages   []string `json:"remove_pages,omitempty" yaml:"remove_pages,omitempty"`
}

// HostnameConfig binds an address to a site.
type HostnameConfig struct {
	Address     string `json:"address" yaml:"address" validate:"required"`
	WelcomePage string `json:"welcome_page,omitempty" yaml:"welcome_page,omitempty"`
}

// PlacementConfig lists the content ids placed into a slot, in order.
type PlacementConfig struct {
	Slot    string   `json:"slot" yaml:"slot" validate:"required"`
	Content []string `json:"content" yaml:"content"`
}

// PageConfig declares a page.
type PageConfig struct {
	ID         string            `json:"id" yaml:"id" validate:"required"`
	Path       string            `json:"path,omitempty" yaml:"path,omitempty"`
	Template   string            `json:"template,omitempty" yaml:"template,omitempty"`
	Layout     string            `json:"layout,omitempty" yaml:"layout,omitempty"`
	Permission string            `json:"permission,omitempty" yaml:"permission,omitempty"`
	AuthPage   string            `json:"auth_page,omitempty" yaml:"auth_page,omitempty"`
	Content    []PlacementConfig `json:"content,omitempty" yaml:"content,omitempty" validate:"dive"`
	Remove     []string          `json:"remove,omitempty" yaml:"remove,omitempty"`
	CSS        []string          `json:"css,omitempty" yaml:"css,omitempty"`
	JS         []string          `json:"js,omitempty" yaml:"js,omitempty"`
}

// TemplateConfig declares a template.
type TemplateConfig struct {
	ID      string            `json:"id" yaml:"id" validate:"required"`
	Layout  string            `json:"layout" yaml:"layout" validate:"required"`
	HTMLID  string            `json:"html_id,omitempty" yaml:"html_id,omitempty"`
	Content []PlacementConfig `json:"content,omitempty" yaml:"content,omitempty" validate:"dive"`
	Remove  []string          `json:"remove,omitempty" yaml:"remove,omitempty"`
	CSS     []string          `json:"css,omitempty" yaml:"css,omitempty"`
	JS      []string          `json:"js,omitempty" yaml:"js,omitempty"`
}

// DelegateConfig is a purpose-tagged child of composite content.
type DelegateConfig struct {
	Purpose string `json:"purpose,omitempty" yaml:"purpose,omitempty"`
	Content string `json:"content" yaml:"content" validate:"required"`
}

// ContentConfig declares content. Type selects the variant and decides which
// of the remaining fields apply.
type ContentConfig struct {
	ID        string   `json:"id" yaml:"id" validate:"required"`
	Type      string   `json:"type" yaml:"type" validate:"required,oneof=text markdown script container composite application_function"`
	Path      string   `json:"path,omitempty" yaml:"path,omitempty"`
	HTMLID    string   `json:"html_id,omitempty" yaml:"html_id,omitempty"`
	HTMLClass string   `json:"html_class,omitempty" yaml:"html_class,omitempty"`
	CSS       []string `json:"css,omitempty" yaml:"css,omitempty"`
	JS        []string `json:"js,omitempty" yaml:"js,omitempty"`

	// text
	HTML string `json:"html,omitempty" yaml:"html,omitempty"`

	// markdown
	Markdown string `json:"markdown,omitempty" yaml:"markdown,omitempty"`

	// script
	Source  string                 `json:"source,omitempty" yaml:"source,omitempty" validate:"excluded_unless=Type script"`
	Library string                 `json:"library,omitempty" yaml:"library,omitempty" validate:"excluded_unless=Type script"`
	Input   map[string]interface{} `json:"input,omitempty" yaml:"input,omitempty"`

	// container
	Purpose  string   `json:"purpose,omitempty" yaml:"purpose,omitempty"`
	Children []string `json:"children,omitempty" yaml:"children,omitempty" validate:"excluded_unless=Type container"`
	Remove   []string `json:"remove,omitempty" yaml:"remove,omitempty" validate:"excluded_unless=Type container"`

	// composite
	DefaultPurpose string            `json:"default_purpose,omitempty" yaml:"default_purpose,omitempty"`
	Delegates      []DelegateConfig  `json:"delegates,omitempty" yaml:"delegates,omitempty" validate:"excluded_unless=Type composite,dive"`
	Attributes     map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`

	// application_function
	Function     string            `json:"function,omitempty" yaml:"function,omitempty" validate:"required_if=Type application_function"`
	Component    string            `json:"component,omitempty" yaml:"component,omitempty" validate:"required_if=Type application_function"`
	RegisterLink bool              `json:"register_link,omitempty" yaml:"register_link,omitempty"`
	Parameters   map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// ParsedConfig represents the complete parsed configuration.
type ParsedConfig struct {
	// Document is the merged declaration of all sources.
	Document Document `json:"document"`

	// Sites are the linked site models, in declaration order.
	Sites []*model.Site `json:"-"`

	// SourceFiles lists all source files that were parsed.
	SourceFiles []string `json:"source_files"`

	// ParsedAt is when the configuration was parsed.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors contains any validation errors.
	Errors []ValidationError `json:"errors,omitempty"`
}

// HasErrors reports whether parsing or linking produced errors.
func (pc *ParsedConfig) HasErrors() bool {
	return len(pc.Errors) > 0
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	// File is the source file where the error occurred.
	File string `json:"file"`

	// Line is the line number where the error occurred.
	Line int `json:"line"`

	// Column is the column number where the error occurred.
	Column int `json:"column"`

	// Path is the CUE path to the invalid field.
	Path string `json:"path"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning).
	Severity string `json:"severity"`
}

// Error implements the error interface.
func (ve ValidationError) Error() string {
	switch {
	case ve.File != "" && ve.Line > 0:
		return fmt.Sprintf("%s:%d:%d: %s", ve.File, ve.Line, ve.Column, ve.Message)
	case ve.Path != "":
		return fmt.Sprintf("%s: %s", ve.Path, ve.Message)
	default:
		return ve.Message
	}
}

// StarlarkResult represents the result of Starlark script execution.
type StarlarkResult struct {
	// Output contains the output values from the script.
	Output map[string]interface{} `json:"output"`

	// ExecutionTime is how long the script took to execute.
	ExecutionTime time.Duration `json:"execution_time"`

	// Error contains any execution error.
	Error string `json:"error,omitempty"`
}
