package model

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks a declared site for structural mistakes that can be found
// without a store: missing identifiers, duplicate boxes within a layout and
// identifiers reused by different declarations.
func Validate(site *Site) error {
	if site == nil {
		return errors.New("site is nil")
	}
	if err := validate.Struct(site); err != nil {
		return fmt.Errorf("site %s: %w", site.ID, err)
	}

	v := &walker{
		pages:     make(map[string]*Page),
		templates: make(map[string]*Template),
		layouts:   make(map[string]*Layout),
		contents:  make(map[string]Content),
	}

	for _, h := range site.Hostnames {
		if h.WelcomePage != nil {
			v.page(h.WelcomePage)
		}
	}
	for _, p := range site.Pages {
		v.page(p)
	}
	for _, p := range site.PagesToRemove {
		if p == nil || p.ID == "" {
			v.errs = append(v.errs, errors.New("page to remove has no id"))
		}
	}
	for _, c := range site.Content {
		v.content(c, nil)
	}
	v.removals("site "+site.ID, site.ContentToRemove)

	return errors.Join(v.errs...)
}

type walker struct {
	pages     map[string]*Page
	templates map[string]*Template
	layouts   map[string]*Layout
	contents  map[string]Content
	errs      []error
}

func (v *walker) page(p *Page) {
	if prev, ok := v.pages[p.ID]; ok {
		if prev != p {
			v.errs = append(v.errs, fmt.Errorf("page %s declared more than once", p.ID))
		}
		return
	}
	v.pages[p.ID] = p

	if err := validate.Struct(p); err != nil {
		v.errs = append(v.errs, fmt.Errorf("page %s: %w", p.ID, err))
	}
	if p.Template != nil {
		v.template(p.Template)
	}
	if p.Layout != nil {
		v.layout(p.Layout)
	}
	if p.EffectiveLayout() == nil {
		v.errs = append(v.errs, fmt.Errorf("page %s has no layout", p.ID))
	}
	if p.AuthenticationPage != nil && p.AuthenticationPage.ID == "" {
		v.errs = append(v.errs, fmt.Errorf("page %s: authentication page has no id", p.ID))
	}
	v.placements("page "+p.ID, p.Content)
	v.removals("page "+p.ID, p.ContentToRemove)
}

func (v *walker) template(t *Template) {
	if prev, ok := v.templates[t.ID]; ok {
		if prev != t {
			v.errs = append(v.errs, fmt.Errorf("template %s declared more than once", t.ID))
		}
		return
	}
	v.templates[t.ID] = t

	if err := validate.Struct(t); err != nil {
		v.errs = append(v.errs, fmt.Errorf("template %s: %w", t.ID, err))
	}
	if t.Layout == nil {
		v.errs = append(v.errs, fmt.Errorf("template %s has no layout", t.ID))
	} else {
		v.layout(t.Layout)
	}
	v.placements("template "+t.ID, t.Content)
	v.removals("template "+t.ID, t.ContentToRemove)
}

func (v *walker) layout(l *Layout) {
	if prev, ok := v.layouts[l.ID]; ok {
		if prev != l {
			v.errs = append(v.errs, fmt.Errorf("layout %s declared more than once", l.ID))
		}
		return
	}
	v.layouts[l.ID] = l

	if err := validate.Struct(l); err != nil {
		v.errs = append(v.errs, fmt.Errorf("layout %s: %w", l.ID, err))
	}
	seen := make(map[string]bool)
	_ = l.Walk(func(_, b *Box, _ int) error {
		if seen[b.ID] {
			v.errs = append(v.errs, fmt.Errorf("layout %s: duplicate box %s", l.ID, b.ID))
		}
		seen[b.ID] = true
		return nil
	})
}

func (v *walker) placements(owner string, placements []Placement) {
	for _, pl := range placements {
		if pl.Slot == "" {
			v.errs = append(v.errs, fmt.Errorf("%s: placement has no slot", owner))
		}
		for _, c := range pl.Content {
			v.content(c, nil)
		}
	}
}

// content validates c and its delegates. stack holds the ids on the current
// delegate chain; cycles are left to the reconciler, which reports them with
// their full context.
func (v *walker) content(c Content, stack map[string]bool) {
	if c == nil {
		v.errs = append(v.errs, errors.New("nil content"))
		return
	}
	id := c.Base().ID
	if stack[id] {
		return
	}
	if prev, ok := v.contents[id]; ok {
		switch {
		case prev.Kind() != c.Kind():
			v.errs = append(v.errs, fmt.Errorf("content %s declared as both %s and %s", id, prev.Kind(), c.Kind()))
		case prev != c:
			v.errs = append(v.errs, fmt.Errorf("content %s declared more than once", id))
		}
		return
	}
	v.contents[id] = c

	if err := validate.Struct(c); err != nil {
		v.errs = append(v.errs, fmt.Errorf("content %s: %w", id, err))
	}

	if d, ok := c.(Delegating); ok {
		next := make(map[string]bool, len(stack)+1)
		for k := range stack {
			next[k] = true
		}
		next[id] = true
		for _, child := range d.Delegates() {
			v.content(child.Content, next)
		}
	}
	if ct, ok := c.(*Container); ok {
		v.removals("content "+id, ct.ContentToRemove)
	}
}

// removals only needs names: a removal entry refers to content by id and may
// be a stand-in for content that is no longer declared.
func (v *walker) removals(owner string, list []Content) {
	for _, c := range list {
		if c == nil || c.Base().ID == "" {
			v.errs = append(v.errs, fmt.Errorf("%s: content to remove has no id", owner))
		}
	}
}
