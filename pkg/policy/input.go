package policy

import (
	"github.com/openfroyo/sitemodel/pkg/model"
)

// NewSiteInput flattens a declared site. Pages, templates, layouts and
// content appear once each, in the order they are first reached.
func NewSiteInput(site *model.Site) *SiteInput {
	f := &flattener{
		in: &SiteInput{
			ID:              site.ID,
			PrimaryLocale:   site.Locale(),
			DefaultTimezone: site.Timezone(),
			Hostnames:       []HostnameInput{},
			Pages:           []PageInput{},
			Templates:       []TemplateInput{},
			Layouts:         []LayoutInput{},
			Content:         []ContentInput{},
			Libraries:       []LibraryInput{},
			RemoveContent:   []string{},
			RemovePages:     []string{},
		},
		seen: make(map[string]bool),
	}

	for _, h := range site.Hostnames {
		hi := HostnameInput{Address: h.Address}
		if h.WelcomePage != nil {
			hi.WelcomePage = h.WelcomePage.ID
			f.page(h.WelcomePage)
		}
		f.in.Hostnames = append(f.in.Hostnames, hi)
	}
	for _, p := range site.Pages {
		f.page(p)
	}
	for _, c := range site.Content {
		f.content(c)
	}
	for _, lib := range site.Libraries {
		f.library(lib)
	}
	for _, c := range site.ContentToRemove {
		f.in.RemoveContent = append(f.in.RemoveContent, c.Base().ID)
	}
	for _, p := range site.PagesToRemove {
		f.in.RemovePages = append(f.in.RemovePages, p.ID)
	}

	return f.in
}

type flattener struct {
	in   *SiteInput
	seen map[string]bool
}

// first reports whether key is seen for the first time.
func (f *flattener) first(key string) bool {
	if f.seen[key] {
		return false
	}
	f.seen[key] = true
	return true
}

func (f *flattener) page(p *model.Page) {
	if !f.first("page:" + p.ID) {
		return
	}

	pi := PageInput{
		ID:         p.ID,
		Path:       p.Path,
		Permission: p.Permission,
		Slots:      f.slots(p.Content),
		CSS:        nonNil(p.CSSPaths),
		JS:         nonNil(p.JavaScriptPaths),
	}
	if p.Template != nil {
		pi.Template = p.Template.ID
	}
	if l := p.EffectiveLayout(); l != nil {
		pi.Layout = l.ID
		f.layout(l)
	}
	if p.AuthenticationPage != nil {
		pi.AuthPage = p.AuthenticationPage.ID
	}
	f.in.Pages = append(f.in.Pages, pi)

	if p.Template != nil {
		f.template(p.Template)
	}
	if p.AuthenticationPage != nil {
		f.page(p.AuthenticationPage)
	}
}

func (f *flattener) template(t *model.Template) {
	if !f.first("template:" + t.ID) {
		return
	}

	ti := TemplateInput{ID: t.ID, Slots: f.slots(t.Content)}
	if t.Layout != nil {
		ti.Layout = t.Layout.ID
		f.layout(t.Layout)
	}
	f.in.Templates = append(f.in.Templates, ti)
}

func (f *flattener) layout(l *model.Layout) {
	if !f.first("layout:" + l.ID) {
		return
	}

	li := LayoutInput{ID: l.ID, Boxes: []string{}}
	_ = l.Walk(func(_, b *model.Box, _ int) error {
		li.Boxes = append(li.Boxes, b.ID)
		return nil
	})
	f.in.Layouts = append(f.in.Layouts, li)
}

func (f *flattener) slots(placements []model.Placement) []SlotInput {
	out := make([]SlotInput, 0, len(placements))
	for _, pl := range placements {
		si := SlotInput{Slot: pl.Slot, Content: []string{}}
		for _, c := range pl.Content {
			si.Content = append(si.Content, c.Base().ID)
			f.content(c)
		}
		out = append(out, si)
	}
	return out
}

func (f *flattener) content(c model.Content) {
	base := c.Base()
	if !f.first("content:" + base.ID) {
		return
	}

	ci := ContentInput{
		ID:       base.ID,
		Kind:     string(c.Kind()),
		Path:     base.Path,
		HTMLID:   base.HTMLID,
		Children: []string{},
	}
	switch v := c.(type) {
	case *model.Script:
		if v.Library != nil {
			ci.Library = v.Library.ID
			f.library(v.Library)
		}
	case *model.ApplicationFunction:
		ci.Component = v.ComponentID
		ci.Function = v.Function
		ci.RegisterLink = v.RegisterLink
	}

	var children []model.Content
	if d, ok := c.(model.Delegating); ok {
		for _, child := range d.Delegates() {
			ci.Children = append(ci.Children, child.Content.Base().ID)
			children = append(children, child.Content)
		}
	}
	f.in.Content = append(f.in.Content, ci)

	for _, child := range children {
		f.content(child)
	}
}

func (f *flattener) library(lib *model.Library) {
	if !f.first("library:" + lib.ID) {
		return
	}
	f.in.Libraries = append(f.in.Libraries, LibraryInput{ID: lib.ID, Path: lib.Path})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
