// Package model defines the declared shape of a site: hostnames, pages,
// templates, layouts and the content placed into them.
//
// Declared values are plain Go structs. They carry names rather than storage
// identities; the reconciler in pkg/engine maps them onto persisted entities.
package model

// Default values applied to a Site when the declaration leaves them empty.
const (
	DefaultLocale   = "en"
	DefaultTimezone = "UTC"
)

// Site is the top-level declared scope.
type Site struct {
	// ID is the site name. It is the lookup key for the persisted site.
	ID string `json:"id" yaml:"id" validate:"required,max=128"`

	// PrimaryLocale is used for every dataset that does not name a locale.
	PrimaryLocale string `json:"primary_locale,omitempty" yaml:"primary_locale,omitempty" validate:"omitempty,bcp47_language_tag"`

	// DefaultTimezone is stored on the site as declared.
	DefaultTimezone string `json:"default_timezone,omitempty" yaml:"default_timezone,omitempty" validate:"omitempty,timezone"`

	// Hostnames bound to the site. The first one becomes the default hostname.
	Hostnames []Hostname `json:"hostnames" yaml:"hostnames" validate:"dive"`

	Pages           []*Page    `json:"pages,omitempty" yaml:"pages,omitempty" validate:"dive"`
	Content         []Content  `json:"-" yaml:"-" validate:"-"`
	ContentToRemove []Content  `json:"-" yaml:"-" validate:"-"`
	PagesToRemove   []*Page    `json:"-" yaml:"-" validate:"-"`
	Libraries       []*Library `json:"libraries,omitempty" yaml:"libraries,omitempty" validate:"dive"`
}

// Locale returns the declared primary locale or DefaultLocale.
func (s *Site) Locale() string {
	if s.PrimaryLocale == "" {
		return DefaultLocale
	}
	return s.PrimaryLocale
}

// Timezone returns the declared default timezone or DefaultTimezone.
func (s *Site) Timezone() string {
	if s.DefaultTimezone == "" {
		return DefaultTimezone
	}
	return s.DefaultTimezone
}

// Hostname binds an address to the site. Address may contain ${NAME} or
// ${NAME:default} placeholders that are resolved at apply time.
type Hostname struct {
	Address     string `json:"address" yaml:"address" validate:"required"`
	WelcomePage *Page  `json:"-" yaml:"-" validate:"-"`
}

// Resources lists stylesheet and script fragments attached to an entity.
// Fragments are resolved against the web root by the resource resolver.
type Resources struct {
	CSSPaths        []string `json:"css,omitempty" yaml:"css,omitempty" validate:"dive,required"`
	JavaScriptPaths []string `json:"js,omitempty" yaml:"js,omitempty" validate:"dive,required"`
}

// Placement is one slot of a page or template: the box it targets and the
// ordered content declared for it.
type Placement struct {
	Slot    string    `json:"slot" yaml:"slot" validate:"required"`
	Content []Content `json:"-" yaml:"-" validate:"-"`
}

// Page is a routable page.
type Page struct {
	ID   string `json:"id" yaml:"id" validate:"required,max=128"`
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	Template *Template `json:"-" yaml:"-" validate:"-"`

	// Layout overrides the template's layout when set.
	Layout *Layout `json:"-" yaml:"-" validate:"-"`

	Content []Placement `json:"-" yaml:"-" validate:"-"`

	// Permission is the display form of the permission guarding the page.
	Permission string `json:"permission,omitempty" yaml:"permission,omitempty"`

	AuthenticationPage *Page `json:"-" yaml:"-" validate:"-"`

	ContentToRemove []Content `json:"-" yaml:"-" validate:"-"`

	Resources `yaml:",inline"`
}

// EffectiveLayout returns the page layout override or the template layout.
func (p *Page) EffectiveLayout() *Layout {
	if p.Layout != nil {
		return p.Layout
	}
	if p.Template != nil {
		return p.Template.Layout
	}
	return nil
}

// Template is a reusable page blueprint.
type Template struct {
	ID              string      `json:"id" yaml:"id" validate:"required,max=128"`
	HTMLID          string      `json:"html_id,omitempty" yaml:"html_id,omitempty"`
	Layout          *Layout     `json:"-" yaml:"-" validate:"-"`
	Content         []Placement `json:"-" yaml:"-" validate:"-"`
	ContentToRemove []Content   `json:"-" yaml:"-" validate:"-"`

	Resources `yaml:",inline"`
}

// Layout is a named tree of boxes.
type Layout struct {
	ID    string `json:"id" yaml:"id" validate:"required,max=128"`
	Boxes []*Box `json:"boxes" yaml:"boxes" validate:"dive"`
}

// Walk visits every box of the layout in pre-order. The callback receives the
// parent box (nil for roots) and the position among its siblings.
func (l *Layout) Walk(fn func(parent, box *Box, position int) error) error {
	var visit func(parent *Box, boxes []*Box) error
	visit = func(parent *Box, boxes []*Box) error {
		for i, b := range boxes {
			if err := fn(parent, b, i); err != nil {
				return err
			}
			if err := visit(b, b.Children); err != nil {
				return err
			}
		}
		return nil
	}
	return visit(nil, l.Boxes)
}

// Box is a placement slot within a layout.
type Box struct {
	ID                 string `json:"id" yaml:"id" validate:"required,max=128"`
	BoxType            string `json:"type,omitempty" yaml:"type,omitempty"`
	DefaultContentArea bool   `json:"default_content_area,omitempty" yaml:"default_content_area,omitempty"`
	HTMLID             string `json:"html_id,omitempty" yaml:"html_id,omitempty"`
	HTMLClass          string `json:"html_class,omitempty" yaml:"html_class,omitempty"`
	Children           []*Box `json:"children,omitempty" yaml:"children,omitempty" validate:"dive"`
}

// Library is a shared file, typically a script, referenced by content.
type Library struct {
	ID   string `json:"id" yaml:"id" validate:"required"`
	Path string `json:"path" yaml:"path" validate:"required"`
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
}

// LibraryFile is a library resolved to its backing file.
type LibraryFile struct {
	Library *Library
	Path    string
	Content []byte
}
