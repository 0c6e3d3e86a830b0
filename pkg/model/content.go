package model

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// Kind tags a content variant. It is persisted on the content element.
type Kind string

const (
	KindText                Kind = "text"
	KindMarkdown            Kind = "markdown"
	KindScript              Kind = "script"
	KindContainer           Kind = "container"
	KindComposite           Kind = "composite"
	KindApplicationFunction Kind = "application_function"
)

// DefaultPurpose is the delegate purpose used when a variant does not name one.
const DefaultPurpose = "contents"

// Helper gives content variants access to apply-scoped services.
type Helper interface {
	// Site returns the name of the site being applied.
	Site() string

	// Locale returns the locale new datasets are written in.
	Locale() string

	// AssignToSite records that the site uses the given component.
	AssignToSite(componentID string) error

	// LoadLibrary resolves a declared library to its backing file.
	LoadLibrary(lib *Library) (*LibraryFile, error)

	// EvalScript runs a script and returns its exported globals.
	EvalScript(source string, input map[string]any) (map[string]any, error)
}

// DataSet is the data of a new revision. It is immutable once persisted.
type DataSet struct {
	Locale string
	Data   map[string]any
}

// Instance is the result of instantiating declared content. A nil DataSet
// means the persisted data is current and no revision is needed.
type Instance struct {
	Kind    Kind
	DataSet *DataSet
}

// Existing is the persisted view of a content element handed to variants.
type Existing struct {
	Name   string
	Kind   Kind
	Locale string
	Data   map[string]any
}

// Content is the capability every content variant implements. The set of
// variants is closed: Text, Markdown, Script, Container, Composite and
// ApplicationFunction.
type Content interface {
	Base() *ContentBase
	Kind() Kind

	// CreateInstance builds the first revision of new content.
	CreateInstance(h Helper) (*Instance, error)

	// CreateInstanceFrom builds a new revision on top of existing content.
	CreateInstanceFrom(h Helper, existing *Existing) (*Instance, error)

	// IsModified reports whether the declared data differs from existing.
	IsModified(h Helper, existing *Existing) (bool, error)
}

// Delegate is a purpose-tagged child of delegate-bearing content.
type Delegate struct {
	Purpose string
	Content Content
}

// Delegating is implemented by variants that own child content.
type Delegating interface {
	Content
	Delegates() []Delegate
}

// ContentBase holds the attributes shared by all variants.
type ContentBase struct {
	ID        string `json:"id" yaml:"id" validate:"required,max=128"`
	Path      string `json:"path,omitempty" yaml:"path,omitempty"`
	HTMLID    string `json:"html_id,omitempty" yaml:"html_id,omitempty"`
	HTMLClass string `json:"html_class,omitempty" yaml:"html_class,omitempty"`

	Resources `yaml:",inline"`
}

// Base returns the shared attributes.
func (b *ContentBase) Base() *ContentBase { return b }

// Text is leaf content holding literal HTML.
type Text struct {
	ContentBase
	HTML string `json:"html" yaml:"html"`
}

func (t *Text) Kind() Kind { return KindText }

func (t *Text) data() map[string]any {
	return map[string]any{"html": t.HTML}
}

func (t *Text) CreateInstance(h Helper) (*Instance, error) {
	return newInstance(t, h, t.data()), nil
}

func (t *Text) CreateInstanceFrom(h Helper, existing *Existing) (*Instance, error) {
	return instanceFrom(t, h, existing, t.data()), nil
}

func (t *Text) IsModified(_ Helper, existing *Existing) (bool, error) {
	return differs(t, existing, t.data()), nil
}

// Markdown is leaf content rendered to HTML when instantiated.
type Markdown struct {
	ContentBase
	Source string `json:"markdown" yaml:"markdown"`
}

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithParserOptions(parser.WithAutoHeadingID()),
	goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
)

func (m *Markdown) Kind() Kind { return KindMarkdown }

func (m *Markdown) data() (map[string]any, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(m.Source), &buf); err != nil {
		return nil, fmt.Errorf("failed to render markdown %s: %w", m.ID, err)
	}
	return map[string]any{"markdown": m.Source, "html": buf.String()}, nil
}

func (m *Markdown) CreateInstance(h Helper) (*Instance, error) {
	data, err := m.data()
	if err != nil {
		return nil, err
	}
	return newInstance(m, h, data), nil
}

func (m *Markdown) CreateInstanceFrom(h Helper, existing *Existing) (*Instance, error) {
	data, err := m.data()
	if err != nil {
		return nil, err
	}
	return instanceFrom(m, h, existing, data), nil
}

// IsModified compares the markdown source only; rendering is deterministic.
func (m *Markdown) IsModified(_ Helper, existing *Existing) (bool, error) {
	if existing == nil || existing.Kind != KindMarkdown {
		return true, nil
	}
	src, _ := existing.Data["markdown"].(string)
	return src != m.Source, nil
}

// Script is leaf content whose data is produced by a Starlark script. The
// source is either inline or read from a library file.
type Script struct {
	ContentBase
	Source  string         `json:"source,omitempty" yaml:"source,omitempty"`
	Library *Library       `json:"-" yaml:"-" validate:"-"`
	Input   map[string]any `json:"input,omitempty" yaml:"input,omitempty"`
}

func (s *Script) Kind() Kind { return KindScript }

func (s *Script) data(h Helper) (map[string]any, error) {
	source := s.Source
	data := map[string]any{}
	if s.Library != nil {
		file, err := h.LoadLibrary(s.Library)
		if err != nil {
			return nil, err
		}
		source = string(file.Content)
		data["library"] = s.Library.ID
	}
	if source == "" {
		return nil, fmt.Errorf("script %s has no source", s.ID)
	}

	output, err := h.EvalScript(source, s.Input)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate script %s: %w", s.ID, err)
	}
	data["output"] = output
	return data, nil
}

func (s *Script) CreateInstance(h Helper) (*Instance, error) {
	data, err := s.data(h)
	if err != nil {
		return nil, err
	}
	return newInstance(s, h, data), nil
}

func (s *Script) CreateInstanceFrom(h Helper, existing *Existing) (*Instance, error) {
	data, err := s.data(h)
	if err != nil {
		return nil, err
	}
	return instanceFrom(s, h, existing, data), nil
}

// IsModified evaluates the script and compares its output.
func (s *Script) IsModified(h Helper, existing *Existing) (bool, error) {
	data, err := s.data(h)
	if err != nil {
		return false, err
	}
	return differs(s, existing, data), nil
}

// Container groups child content under a single purpose.
type Container struct {
	ContentBase
	Purpose  string    `json:"purpose,omitempty" yaml:"purpose,omitempty"`
	Children []Content `json:"-" yaml:"-" validate:"-"`

	// ContentToRemove lists children to trash on apply.
	ContentToRemove []Content `json:"-" yaml:"-" validate:"-"`
}

func (c *Container) Kind() Kind { return KindContainer }

func (c *Container) purpose() string {
	if c.Purpose == "" {
		return DefaultPurpose
	}
	return c.Purpose
}

// Delegates returns the children tagged with the container purpose.
func (c *Container) Delegates() []Delegate {
	out := make([]Delegate, 0, len(c.Children))
	for _, child := range c.Children {
		out = append(out, Delegate{Purpose: c.purpose(), Content: child})
	}
	return out
}

func (c *Container) data() map[string]any {
	return map[string]any{"purpose": c.purpose()}
}

func (c *Container) CreateInstance(h Helper) (*Instance, error) {
	return newInstance(c, h, c.data()), nil
}

func (c *Container) CreateInstanceFrom(h Helper, existing *Existing) (*Instance, error) {
	return instanceFrom(c, h, existing, c.data()), nil
}

func (c *Container) IsModified(_ Helper, existing *Existing) (bool, error) {
	return differs(c, existing, c.data()), nil
}

// Composite owns children with individual purposes. Children without a
// purpose use DefaultPurpose of the composite.
type Composite struct {
	ContentBase
	DefaultPurpose string            `json:"default_purpose,omitempty" yaml:"default_purpose,omitempty"`
	Children       []Delegate        `json:"-" yaml:"-" validate:"-"`
	Attributes     map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

func (c *Composite) Kind() Kind { return KindComposite }

// Delegates returns the children with their effective purposes.
func (c *Composite) Delegates() []Delegate {
	def := c.DefaultPurpose
	if def == "" {
		def = DefaultPurpose
	}
	out := make([]Delegate, 0, len(c.Children))
	for _, d := range c.Children {
		if d.Purpose == "" {
			d.Purpose = def
		}
		out = append(out, d)
	}
	return out
}

func (c *Composite) data() map[string]any {
	attrs := make(map[string]any, len(c.Attributes))
	for k, v := range c.Attributes {
		attrs[k] = v
	}
	return map[string]any{"attributes": attrs}
}

func (c *Composite) CreateInstance(h Helper) (*Instance, error) {
	return newInstance(c, h, c.data()), nil
}

func (c *Composite) CreateInstanceFrom(h Helper, existing *Existing) (*Instance, error) {
	return instanceFrom(c, h, existing, c.data()), nil
}

func (c *Composite) IsModified(_ Helper, existing *Existing) (bool, error) {
	return differs(c, existing, c.data()), nil
}

// ApplicationFunction places a named application component on a page.
type ApplicationFunction struct {
	ContentBase

	// Function is the function name within the component.
	Function string `json:"function" yaml:"function" validate:"required"`

	// ComponentID identifies the component that provides the function.
	ComponentID string `json:"component" yaml:"component" validate:"required"`

	// RegisterLink registers the page as the function's routable link.
	RegisterLink bool `json:"register_link,omitempty" yaml:"register_link,omitempty"`

	Parameters map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

func (a *ApplicationFunction) Kind() Kind { return KindApplicationFunction }

func (a *ApplicationFunction) data() map[string]any {
	params := make(map[string]any, len(a.Parameters))
	for k, v := range a.Parameters {
		params[k] = v
	}
	return map[string]any{
		"function":   a.Function,
		"component":  a.ComponentID,
		"parameters": params,
	}
}

func (a *ApplicationFunction) CreateInstance(h Helper) (*Instance, error) {
	if err := h.AssignToSite(a.ComponentID); err != nil {
		return nil, err
	}
	return newInstance(a, h, a.data()), nil
}

func (a *ApplicationFunction) CreateInstanceFrom(h Helper, existing *Existing) (*Instance, error) {
	if err := h.AssignToSite(a.ComponentID); err != nil {
		return nil, err
	}
	return instanceFrom(a, h, existing, a.data()), nil
}

func (a *ApplicationFunction) IsModified(_ Helper, existing *Existing) (bool, error) {
	return differs(a, existing, a.data()), nil
}

func newInstance(c Content, h Helper, data map[string]any) *Instance {
	return &Instance{
		Kind:    c.Kind(),
		DataSet: &DataSet{Locale: h.Locale(), Data: data},
	}
}

// instanceFrom returns a pending dataset only when data differs from existing.
func instanceFrom(c Content, h Helper, existing *Existing, data map[string]any) *Instance {
	if !differs(c, existing, data) {
		return &Instance{Kind: c.Kind()}
	}
	locale := h.Locale()
	if existing != nil && existing.Locale != "" {
		locale = existing.Locale
	}
	return &Instance{
		Kind:    c.Kind(),
		DataSet: &DataSet{Locale: locale, Data: data},
	}
}

func differs(c Content, existing *Existing, data map[string]any) bool {
	if existing == nil || existing.Kind != c.Kind() {
		return true
	}
	return !EqualData(existing.Data, data)
}

// EqualData compares two datasets by their JSON encoding. Both sides are
// decoded with exact numbers first, so integers wider than a float64
// mantissa survive the trip through storage.
func EqualData(a, b map[string]any) bool {
	ab, err := canonicalJSON(a)
	if err != nil {
		return false
	}
	bb, err := canonicalJSON(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

func canonicalJSON(m map[string]any) ([]byte, error) {
	raw, err := json.Marshal(normalize(m))
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func normalize(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
