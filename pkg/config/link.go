package config

import (
	"fmt"

	"github.com/openfroyo/sitemodel/pkg/model"
)

// Link resolves the id references of doc into site models. Entities shared
// by several references are built once, so two pages naming the same
// template receive the same *model.Template. References between content are
// linked as declared, including cycles; the reconciler reports those.
func Link(doc *Document) ([]*model.Site, []ValidationError) {
	l := &linker{
		doc:       doc,
		pageIdx:   make(map[string]int),
		tmplIdx:   make(map[string]int),
		layoutIdx: make(map[string]int),
		contIdx:   make(map[string]int),
		libIdx:    make(map[string]int),
		pages:     make(map[string]*model.Page),
		templates: make(map[string]*model.Template),
		contents:  make(map[string]model.Content),
	}
	l.index()
	if len(l.errs) > 0 {
		return nil, l.errs
	}

	sites := make([]*model.Site, 0, len(doc.Sites))
	seen := make(map[string]bool, len(doc.Sites))
	for i := range doc.Sites {
		sc := &doc.Sites[i]
		path := fmt.Sprintf("sites[%d]", i)
		if seen[sc.ID] {
			l.errorf(path, "site %s declared more than once", sc.ID)
			continue
		}
		seen[sc.ID] = true
		sites = append(sites, l.site(sc, path))
	}

	if len(l.errs) > 0 {
		return nil, l.errs
	}
	return sites, nil
}

type linker struct {
	doc *Document

	pageIdx   map[string]int
	tmplIdx   map[string]int
	layoutIdx map[string]int
	contIdx   map[string]int
	libIdx    map[string]int

	pages     map[string]*model.Page
	templates map[string]*model.Template
	contents  map[string]model.Content

	errs []ValidationError
}

func (l *linker) errorf(path, format string, args ...interface{}) {
	l.errs = append(l.errs, ValidationError{
		Path:     path,
		Message:  fmt.Sprintf(format, args...),
		Severity: "error",
	})
}

// index maps ids to declaration positions and reports duplicates.
func (l *linker) index() {
	add := func(idx map[string]int, kind, id string, i int) {
		if _, ok := idx[id]; ok {
			l.errorf(fmt.Sprintf("%s[%d]", kind, i), "%s %s declared more than once", kind, id)
			return
		}
		idx[id] = i
	}
	for i, p := range l.doc.Pages {
		add(l.pageIdx, "pages", p.ID, i)
	}
	for i, t := range l.doc.Templates {
		add(l.tmplIdx, "templates", t.ID, i)
	}
	for i, ly := range l.doc.Layouts {
		add(l.layoutIdx, "layouts", ly.ID, i)
	}
	for i, c := range l.doc.Content {
		add(l.contIdx, "content", c.ID, i)
	}
	for i, lib := range l.doc.Libraries {
		add(l.libIdx, "libraries", lib.ID, i)
	}
}

func (l *linker) site(sc *SiteConfig, path string) *model.Site {
	site := &model.Site{
		ID:              sc.ID,
		PrimaryLocale:   sc.PrimaryLocale,
		DefaultTimezone: sc.DefaultTimezone,
	}

	for i, h := range sc.Hostnames {
		hn := model.Hostname{Address: h.Address}
		if h.WelcomePage != "" {
			hn.WelcomePage = l.page(h.WelcomePage, fmt.Sprintf("%s.hostnames[%d].welcome_page", path, i))
		}
		site.Hostnames = append(site.Hostnames, hn)
	}
	for i, id := range sc.Pages {
		if p := l.page(id, fmt.Sprintf("%s.pages[%d]", path, i)); p != nil {
			site.Pages = append(site.Pages, p)
		}
	}
	for i, id := range sc.Content {
		if c := l.content(id, fmt.Sprintf("%s.content[%d]", path, i)); c != nil {
			site.Content = append(site.Content, c)
		}
	}
	for i, id := range sc.Libraries {
		if lib := l.library(id, fmt.Sprintf("%s.libraries[%d]", path, i)); lib != nil {
			site.Libraries = append(site.Libraries, lib)
		}
	}
	site.ContentToRemove = l.removals(sc.RemoveContent)
	for _, id := range sc.RemovePages {
		if _, ok := l.pageIdx[id]; ok {
			site.PagesToRemove = append(site.PagesToRemove, l.page(id, path+".remove_pages"))
			continue
		}
		site.PagesToRemove = append(site.PagesToRemove, &model.Page{ID: id})
	}

	return site
}

func (l *linker) page(id, path string) *model.Page {
	if p, ok := l.pages[id]; ok {
		return p
	}
	i, ok := l.pageIdx[id]
	if !ok {
		l.errorf(path, "unknown page %s", id)
		return nil
	}
	pc := &l.doc.Pages[i]
	at := fmt.Sprintf("pages[%d]", i)

	p := &model.Page{
		ID:         pc.ID,
		Path:       pc.Path,
		Permission: pc.Permission,
		Resources:  model.Resources{CSSPaths: pc.CSS, JavaScriptPaths: pc.JS},
	}
	// Registered before the references are followed so a page may name
	// itself, or a page naming it, as its authentication page.
	l.pages[id] = p

	if pc.Template != "" {
		p.Template = l.template(pc.Template, at+".template")
	}
	if pc.Layout != "" {
		p.Layout = l.layout(pc.Layout, at+".layout")
	}
	if pc.AuthPage != "" {
		p.AuthenticationPage = l.page(pc.AuthPage, at+".auth_page")
	}
	p.Content = l.placements(pc.Content, at)
	p.ContentToRemove = l.removals(pc.Remove)

	return p
}

func (l *linker) template(id, path string) *model.Template {
	if t, ok := l.templates[id]; ok {
		return t
	}
	i, ok := l.tmplIdx[id]
	if !ok {
		l.errorf(path, "unknown template %s", id)
		return nil
	}
	tc := &l.doc.Templates[i]
	at := fmt.Sprintf("templates[%d]", i)

	t := &model.Template{
		ID:        tc.ID,
		HTMLID:    tc.HTMLID,
		Resources: model.Resources{CSSPaths: tc.CSS, JavaScriptPaths: tc.JS},
	}
	l.templates[id] = t

	t.Layout = l.layout(tc.Layout, at+".layout")
	t.Content = l.placements(tc.Content, at)
	t.ContentToRemove = l.removals(tc.Remove)

	return t
}

func (l *linker) layout(id, path string) *model.Layout {
	i, ok := l.layoutIdx[id]
	if !ok {
		l.errorf(path, "unknown layout %s", id)
		return nil
	}
	return l.doc.Layouts[i]
}

func (l *linker) library(id, path string) *model.Library {
	i, ok := l.libIdx[id]
	if !ok {
		l.errorf(path, "unknown library %s", id)
		return nil
	}
	return l.doc.Libraries[i]
}

func (l *linker) placements(pcs []PlacementConfig, at string) []model.Placement {
	out := make([]model.Placement, 0, len(pcs))
	for i, pc := range pcs {
		pl := model.Placement{Slot: pc.Slot}
		for j, id := range pc.Content {
			if c := l.content(id, fmt.Sprintf("%s.content[%d].content[%d]", at, i, j)); c != nil {
				pl.Content = append(pl.Content, c)
			}
		}
		out = append(out, pl)
	}
	return out
}

// removals resolves ids of content to trash. Only the name is needed to
// trash content, so ids without a declaration get a bare Text.
func (l *linker) removals(ids []string) []model.Content {
	var out []model.Content
	for _, id := range ids {
		if _, ok := l.contIdx[id]; ok {
			out = append(out, l.content(id, ""))
			continue
		}
		out = append(out, &model.Text{ContentBase: model.ContentBase{ID: id}})
	}
	return out
}

func (l *linker) content(id, path string) model.Content {
	if c, ok := l.contents[id]; ok {
		return c
	}
	i, ok := l.contIdx[id]
	if !ok {
		l.errorf(path, "unknown content %s", id)
		return nil
	}
	cc := &l.doc.Content[i]
	at := fmt.Sprintf("content[%d]", i)

	base := model.ContentBase{
		ID:        cc.ID,
		Path:      cc.Path,
		HTMLID:    cc.HTMLID,
		HTMLClass: cc.HTMLClass,
		Resources: model.Resources{CSSPaths: cc.CSS, JavaScriptPaths: cc.JS},
	}

	switch model.Kind(cc.Type) {
	case model.KindText:
		c := &model.Text{ContentBase: base, HTML: cc.HTML}
		l.contents[id] = c
		return c

	case model.KindMarkdown:
		c := &model.Markdown{ContentBase: base, Source: cc.Markdown}
		l.contents[id] = c
		return c

	case model.KindScript:
		c := &model.Script{ContentBase: base, Source: cc.Source, Input: cc.Input}
		l.contents[id] = c
		if cc.Library != "" {
			c.Library = l.library(cc.Library, at+".library")
		}
		if cc.Source == "" && cc.Library == "" {
			l.errorf(at, "script %s needs a source or a library", id)
		}
		return c

	case model.KindContainer:
		c := &model.Container{ContentBase: base, Purpose: cc.Purpose}
		l.contents[id] = c
		for j, child := range cc.Children {
			if cnt := l.content(child, fmt.Sprintf("%s.children[%d]", at, j)); cnt != nil {
				c.Children = append(c.Children, cnt)
			}
		}
		c.ContentToRemove = l.removals(cc.Remove)
		return c

	case model.KindComposite:
		c := &model.Composite{ContentBase: base, DefaultPurpose: cc.DefaultPurpose, Attributes: cc.Attributes}
		l.contents[id] = c
		for j, d := range cc.Delegates {
			if cnt := l.content(d.Content, fmt.Sprintf("%s.delegates[%d]", at, j)); cnt != nil {
				c.Children = append(c.Children, model.Delegate{Purpose: d.Purpose, Content: cnt})
			}
		}
		return c

	case model.KindApplicationFunction:
		c := &model.ApplicationFunction{
			ContentBase:  base,
			Function:     cc.Function,
			ComponentID:  cc.Component,
			RegisterLink: cc.RegisterLink,
			Parameters:   cc.Parameters,
		}
		l.contents[id] = c
		return c
	}

	l.errorf(at, "content %s has unknown type %q", id, cc.Type)
	return nil
}
