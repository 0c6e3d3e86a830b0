package engine

import (
	"errors"
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/openfroyo/sitemodel/pkg/model"
	"github.com/openfroyo/sitemodel/pkg/resources"
	"github.com/openfroyo/sitemodel/pkg/stores"
)

// preflight resolves hostname placeholders and checks that no declared
// hostname belongs to another site. It runs before anything is written.
func (ac *applyContext) preflight() error {
	var siteID int64
	existing, err := ac.store.GetSiteByName(ac.ctx, ac.decl.ID)
	switch {
	case err == nil:
		siteID = existing.ID
	case !stores.IsNotFound(err):
		return ac.storeErr("failed to look up site", err, "site:"+ac.decl.ID)
	}

	seen := mapset.NewThreadUnsafeSet[string]()
	for _, h := range ac.decl.Hostnames {
		addr, err := ac.r.placeholders.Resolve(h.Address)
		if err != nil {
			return NewInvalidDeclarationError(fmt.Sprintf("cannot resolve hostname %q", h.Address), err).
				WithCode(ErrCodePlaceholder).
				WithEntity("hostname:" + h.Address)
		}
		if !seen.Add(addr) {
			return NewInvalidDeclarationError(fmt.Sprintf("hostname %q is declared twice", addr), nil).
				WithCode(ErrCodeValidation).
				WithEntity("hostname:" + addr)
		}

		host, err := ac.store.GetHostname(ac.ctx, addr)
		if stores.IsNotFound(err) {
			ac.hostnames = append(ac.hostnames, addr)
			continue
		}
		if err != nil {
			return ac.storeErr("failed to look up hostname", err, "hostname:"+addr)
		}
		if host.SiteID != siteID {
			return NewIdentityConflictError(fmt.Sprintf("hostname %q belongs to another site", addr), nil).
				WithCode(ErrCodeHostnameTaken).
				WithEntity("hostname:"+addr).
				WithDetail("site_id", host.SiteID)
		}
		ac.hostnames = append(ac.hostnames, addr)
	}
	return nil
}

// resolveSite finds the persisted site by name or creates it.
func (ac *applyContext) resolveSite() error {
	site, err := ac.store.GetSiteByName(ac.ctx, ac.decl.ID)
	if stores.IsNotFound(err) {
		site = &stores.Site{
			Name:            ac.decl.ID,
			PrimaryLocale:   ac.decl.Locale(),
			DefaultTimezone: ac.decl.Timezone(),
			CreatedBy:       ac.actor,
		}
		if err := ac.store.CreateSite(ac.ctx, site); err != nil {
			return ac.storeErr("failed to create site", err, "site:"+ac.decl.ID)
		}
		ac.site = site
		ac.record(EntitySite, site.Name, OperationCreate, "")
		return nil
	}
	if err != nil {
		return ac.storeErr("failed to look up site", err, "site:"+ac.decl.ID)
	}

	ac.site = site
	if site.PrimaryLocale == ac.decl.Locale() && site.DefaultTimezone == ac.decl.Timezone() {
		ac.record(EntitySite, site.Name, OperationNoop, "")
		return nil
	}

	site.PrimaryLocale = ac.decl.Locale()
	site.DefaultTimezone = ac.decl.Timezone()
	if err := ac.store.UpdateSite(ac.ctx, site); err != nil {
		return ac.storeErr("failed to update site", err, "site:"+site.Name)
	}
	ac.record(EntitySite, site.Name, OperationUpdate, "locale/timezone")
	return nil
}

// removeDeclared trashes every content element named for removal by the site,
// its pages, its templates or any declared container, and every page named
// for removal by the site.
func (ac *applyContext) removeDeclared() error {
	names := ac.collectRemovals()
	for _, name := range names.ToSlice() {
		ac.removed.Add(name)
	}

	for _, name := range sortedNames(names) {
		content, err := ac.store.GetContent(ac.ctx, ac.site.ID, name)
		if stores.IsNotFound(err) {
			continue
		}
		if err != nil {
			return ac.storeErr("failed to look up content", err, "content:"+name)
		}
		if err := ac.store.TrashContent(ac.ctx, content.ID); err != nil {
			return ac.storeErr("failed to trash content", err, "content:"+name)
		}
		ac.record(EntityContent, name, OperationTrash, "")
	}

	for _, p := range ac.decl.PagesToRemove {
		if p == nil || !ac.removedPages.Add(p.ID) {
			continue
		}
		page, err := ac.store.GetPage(ac.ctx, ac.site.ID, p.ID)
		if stores.IsNotFound(err) {
			continue
		}
		if err != nil {
			return ac.storeErr("failed to look up page", err, "page:"+p.ID)
		}
		if err := ac.store.TrashPage(ac.ctx, page.ID); err != nil {
			return ac.storeErr("failed to trash page", err, "page:"+p.ID)
		}
		ac.record(EntityPage, p.ID, OperationTrash, "")
	}
	return nil
}

// collectRemovals expands the declared removal lists. A container named for
// removal contributes its own removal list, and so does every container found
// anywhere in the declared tree.
func (ac *applyContext) collectRemovals() mapset.Set[string] {
	names := mapset.NewThreadUnsafeSet[string]()
	visited := mapset.NewThreadUnsafeSet[model.Content]()

	var expand func(c model.Content, remove bool)
	expand = func(c model.Content, remove bool) {
		if c == nil {
			return
		}
		if remove {
			names.Add(c.Base().ID)
		}
		if !visited.Add(c) {
			return
		}
		if ctr, ok := c.(*model.Container); ok {
			for _, r := range ctr.ContentToRemove {
				expand(r, true)
			}
		}
		if d, ok := c.(model.Delegating); ok {
			for _, child := range d.Delegates() {
				expand(child.Content, false)
			}
		}
	}

	expandList := func(list []model.Content, remove bool) {
		for _, c := range list {
			expand(c, remove)
		}
	}
	expandSlots := func(slots []model.Placement) {
		for _, s := range slots {
			expandList(s.Content, false)
		}
	}

	expandList(ac.decl.ContentToRemove, true)
	templates := mapset.NewThreadUnsafeSet[*model.Template]()
	for _, p := range ac.declaredPages() {
		expandList(p.ContentToRemove, true)
		expandSlots(p.Content)
		if p.Template != nil && templates.Add(p.Template) {
			expandList(p.Template.ContentToRemove, true)
			expandSlots(p.Template.Content)
		}
	}
	expandList(ac.decl.Content, false)
	return names
}

// declaredPages returns the welcome pages and site pages, each once.
// Authentication pages are references only; they must be declared as one of
// these.
func (ac *applyContext) declaredPages() []*model.Page {
	seen := mapset.NewThreadUnsafeSet[string]()
	var out []*model.Page
	add := func(p *model.Page) {
		if p == nil || !seen.Add(p.ID) {
			return
		}
		out = append(out, p)
	}
	for _, h := range ac.decl.Hostnames {
		add(h.WelcomePage)
	}
	for _, p := range ac.decl.Pages {
		add(p)
	}
	return out
}

// resolveHostnames binds the declared hostnames to the site. The first one
// becomes the default hostname.
func (ac *applyContext) resolveHostnames() error {
	var first *stores.Hostname
	for i, h := range ac.decl.Hostnames {
		addr := ac.hostnames[i]

		var welcomeID *int64
		if h.WelcomePage != nil {
			rp, err := ac.pagePass1(h.WelcomePage)
			if err != nil {
				return err
			}
			welcomeID = &rp.entity.ID
		}

		host, err := ac.store.GetHostname(ac.ctx, addr)
		switch {
		case stores.IsNotFound(err):
			host = &stores.Hostname{
				SiteID:        ac.site.ID,
				Address:       addr,
				WelcomePageID: welcomeID,
				IsDefault:     i == 0,
			}
			if err := ac.store.CreateHostname(ac.ctx, host); err != nil {
				return ac.storeErr("failed to create hostname", err, "hostname:"+addr)
			}
			ac.record(EntityHostname, addr, OperationCreate, "")
		case err != nil:
			return ac.storeErr("failed to look up hostname", err, "hostname:"+addr)
		case host.SiteID != ac.site.ID:
			return NewIdentityConflictError(fmt.Sprintf("hostname %q belongs to another site", addr), nil).
				WithCode(ErrCodeHostnameTaken).
				WithEntity("hostname:" + addr)
		default:
			changed := host.IsDefault != (i == 0)
			if !sameID(host.WelcomePageID, welcomeID) {
				host.WelcomePageID = welcomeID
				changed = true
			}
			if changed {
				host.IsDefault = i == 0
				if err := ac.store.UpdateHostname(ac.ctx, host); err != nil {
					return ac.storeErr("failed to update hostname", err, "hostname:"+addr)
				}
				ac.record(EntityHostname, addr, OperationUpdate, "")
			} else {
				ac.record(EntityHostname, addr, OperationNoop, "")
			}
		}
		if i == 0 {
			first = host
		}
	}

	if err := ac.clearStaleDefaults(first); err != nil {
		return err
	}

	if sameID(ac.site.DefaultHostnameID, &first.ID) {
		return nil
	}
	ac.site.DefaultHostnameID = &first.ID
	if err := ac.store.UpdateSite(ac.ctx, ac.site); err != nil {
		return ac.storeErr("failed to set default hostname", err, "site:"+ac.site.Name)
	}
	ac.record(EntitySite, ac.site.Name, OperationUpdate, "default hostname "+first.Address)
	return nil
}

// clearStaleDefaults unsets the default flag on every other hostname of the
// site.
func (ac *applyContext) clearStaleDefaults(def *stores.Hostname) error {
	hosts, err := ac.store.ListHostnames(ac.ctx, ac.site.ID)
	if err != nil {
		return ac.storeErr("failed to list hostnames", err, "site:"+ac.site.Name)
	}
	for _, h := range hosts {
		if h.ID == def.ID || !h.IsDefault {
			continue
		}
		h.IsDefault = false
		if err := ac.store.UpdateHostname(ac.ctx, h); err != nil {
			return ac.storeErr("failed to update hostname", err, "hostname:"+h.Address)
		}
		ac.record(EntityHostname, h.Address, OperationUpdate, "no longer default")
	}
	return nil
}

// registerLibraries resolves every declared site library.
func (ac *applyContext) registerLibraries() error {
	for _, lib := range ac.decl.Libraries {
		if _, err := ac.loadLibrary(lib); err != nil {
			return err
		}
	}
	return nil
}

// loadLibrary resolves a library to exactly one backing file, registers it
// with the site and reads its contents. Results are cached per library name.
func (ac *applyContext) loadLibrary(lib *model.Library) (*model.LibraryFile, error) {
	if file, ok := ac.libraries[lib.ID]; ok {
		return file, nil
	}
	entity := "library:" + lib.ID

	if ac.r.resolver == nil {
		return nil, NewMissingReferenceError("no resource resolver configured", nil).WithEntity(entity)
	}

	res, err := resources.ResolveOne(ac.r.resolver, lib.Path)
	switch {
	case errors.Is(err, resources.ErrAmbiguous):
		return nil, NewAmbiguousMatchError("library path matches several files", err).
			WithCode(ErrCodeMultipleFiles).
			WithEntity(entity)
	case errors.Is(err, resources.ErrNoMatch):
		return nil, NewMissingReferenceError("library file not found", err).WithEntity(entity)
	case err != nil:
		return nil, ac.storeErr("failed to resolve library", err, entity)
	}

	if err := ac.registerLibrary(lib, res.Path); err != nil {
		return nil, err
	}

	data, err := ac.r.resolver.ReadFile(res)
	if err != nil {
		return nil, ac.storeErr("failed to read library", err, entity)
	}

	file := &model.LibraryFile{Library: lib, Path: res.Path, Content: data}
	ac.libraries[lib.ID] = file
	return file, nil
}

func (ac *applyContext) registerLibrary(lib *model.Library, path string) error {
	entity := "library:" + lib.ID

	libs, err := ac.store.FindLibrariesByPath(ac.ctx, ac.site.ID, path)
	if err != nil {
		return ac.storeErr("failed to find libraries", err, entity)
	}
	switch {
	case len(libs) > 1:
		return NewAmbiguousMatchError(fmt.Sprintf("%d libraries are registered for %s", len(libs), path), nil).
			WithCode(ErrCodeMultipleLibrary).
			WithEntity(entity)
	case len(libs) == 1:
		if libs[0].Name != lib.ID {
			return NewIdentityConflictError(fmt.Sprintf("%s is registered as library %q", path, libs[0].Name), nil).
				WithEntity(entity)
		}
		ac.record(EntityLibrary, lib.ID, OperationNoop, "")
		return nil
	}

	existing, err := ac.store.GetLibrary(ac.ctx, ac.site.ID, lib.ID)
	if err == nil {
		return NewIdentityConflictError(fmt.Sprintf("library %q is registered for %s", lib.ID, existing.Path), nil).
			WithEntity(entity).
			WithDetail("declared_path", path)
	}
	if !stores.IsNotFound(err) {
		return ac.storeErr("failed to look up library", err, entity)
	}

	created := &stores.Library{
		SiteID:      ac.site.ID,
		Name:        lib.ID,
		Path:        path,
		LibraryType: lib.Type,
	}
	if err := ac.store.CreateLibrary(ac.ctx, created); err != nil {
		return ac.storeErr("failed to create library", err, entity)
	}
	ac.record(EntityLibrary, lib.ID, OperationCreate, "")
	return nil
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sortedNames(s mapset.Set[string]) []string {
	names := s.ToSlice()
	sort.Strings(names)
	return names
}
