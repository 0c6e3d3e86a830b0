package engine

import (
	"fmt"

	"github.com/openfroyo/sitemodel/pkg/model"
	"github.com/openfroyo/sitemodel/pkg/stores"
)

// pass1 creates the skeleton of every declared page: layout, boxes, template,
// page and primary path. Nothing is placed into slots yet.
func (ac *applyContext) pass1() error {
	for _, p := range ac.declaredPages() {
		if ac.removedPages.Contains(p.ID) {
			continue
		}
		if _, err := ac.pagePass1(p); err != nil {
			return err
		}
	}
	return nil
}

// pagePass1 resolves or creates one page skeleton. It is memoized by page name
// for the rest of the apply.
func (ac *applyContext) pagePass1(p *model.Page) (*resolvedPage, error) {
	if rp, ok := ac.pages[p.ID]; ok {
		return rp, nil
	}
	entity := "page:" + p.ID
	if ac.removedPages.Contains(p.ID) {
		return nil, NewMissingReferenceError(fmt.Sprintf("page %q is declared for removal", p.ID), nil).
			WithEntity(entity)
	}

	logger := ac.logger.WithPage(p.ID)
	logger.Debug("resolving page skeleton")

	var tmpl *resolvedTemplate
	if p.Template != nil {
		var err error
		if tmpl, err = ac.resolveTemplate(p.Template); err != nil {
			return nil, err
		}
	}

	layoutDecl := p.EffectiveLayout()
	if layoutDecl == nil {
		return nil, NewInvalidDeclarationError("page has neither a layout nor a template", nil).
			WithCode(ErrCodeValidation).
			WithEntity(entity)
	}
	layout, err := ac.resolveLayout(layoutDecl)
	if err != nil {
		return nil, err
	}

	var templateID *int64
	if tmpl != nil {
		templateID = &tmpl.entity.ID
	}

	page, err := ac.store.GetPage(ac.ctx, ac.site.ID, p.ID)
	switch {
	case stores.IsNotFound(err):
		page = &stores.Page{
			SiteID:         ac.site.ID,
			Name:           p.ID,
			TemplateID:     templateID,
			LayoutID:       layout.entity.ID,
			CreatedBy:      ac.actor,
			LastModifiedBy: ac.actor,
		}
		if err := ac.store.CreatePage(ac.ctx, page); err != nil {
			return nil, ac.storeErr("failed to create page", err, entity)
		}
		ac.record(EntityPage, p.ID, OperationCreate, "")
	case err != nil:
		return nil, ac.storeErr("failed to look up page", err, entity)
	case !sameID(page.TemplateID, templateID) || page.LayoutID != layout.entity.ID:
		page.TemplateID = templateID
		page.LayoutID = layout.entity.ID
		page.LastModifiedBy = ac.actor
		if err := ac.store.UpdatePage(ac.ctx, page); err != nil {
			return nil, ac.storeErr("failed to update page", err, entity)
		}
		ac.record(EntityPage, p.ID, OperationUpdate, "template/layout")
	default:
		ac.record(EntityPage, p.ID, OperationNoop, "")
	}

	rp := &resolvedPage{decl: p, entity: page, template: tmpl, layout: layout}
	ac.pages[p.ID] = rp

	if _, err := ac.paths.ensure(stores.OwnerPage, page.ID, pagePath(p)); err != nil {
		return nil, err
	}
	if err := ac.attachResources(stores.OwnerPage, page.ID, p.Resources); err != nil {
		return nil, err
	}
	return rp, nil
}

// resolveTemplate resolves or creates a template and its layout.
func (ac *applyContext) resolveTemplate(t *model.Template) (*resolvedTemplate, error) {
	if rt, ok := ac.templates[t.ID]; ok {
		return rt, nil
	}
	entity := "template:" + t.ID
	if t.Layout == nil {
		return nil, NewInvalidDeclarationError("template has no layout", nil).
			WithCode(ErrCodeValidation).
			WithEntity(entity)
	}

	layout, err := ac.resolveLayout(t.Layout)
	if err != nil {
		return nil, err
	}

	tmpl, err := ac.store.GetTemplate(ac.ctx, ac.site.ID, t.ID)
	switch {
	case stores.IsNotFound(err):
		tmpl = &stores.Template{
			SiteID:   ac.site.ID,
			Name:     t.ID,
			HTMLID:   t.HTMLID,
			LayoutID: layout.entity.ID,
		}
		if err := ac.store.CreateTemplate(ac.ctx, tmpl); err != nil {
			return nil, ac.storeErr("failed to create template", err, entity)
		}
		ac.record(EntityTemplate, t.ID, OperationCreate, "")
	case err != nil:
		return nil, ac.storeErr("failed to look up template", err, entity)
	case tmpl.HTMLID != t.HTMLID || tmpl.LayoutID != layout.entity.ID:
		tmpl.HTMLID = t.HTMLID
		tmpl.LayoutID = layout.entity.ID
		if err := ac.store.UpdateTemplate(ac.ctx, tmpl); err != nil {
			return nil, ac.storeErr("failed to update template", err, entity)
		}
		ac.record(EntityTemplate, t.ID, OperationUpdate, "")
	default:
		ac.record(EntityTemplate, t.ID, OperationNoop, "")
	}

	rt := &resolvedTemplate{decl: t, entity: tmpl, layout: layout}
	ac.templates[t.ID] = rt

	if err := ac.attachResources(stores.OwnerTemplate, tmpl.ID, t.Resources); err != nil {
		return nil, err
	}
	return rt, nil
}

// resolveLayout resolves or creates a layout and brings its box tree in line
// with the declaration. Boxes are only ever added or updated; undeclared boxes
// are left alone.
func (ac *applyContext) resolveLayout(l *model.Layout) (*resolvedLayout, error) {
	if rl, ok := ac.layouts[l.ID]; ok {
		return rl, nil
	}
	entity := "layout:" + l.ID

	layout, err := ac.store.GetLayout(ac.ctx, ac.site.ID, l.ID)
	switch {
	case stores.IsNotFound(err):
		layout = &stores.Layout{SiteID: ac.site.ID, Name: l.ID}
		if err := ac.store.CreateLayout(ac.ctx, layout); err != nil {
			return nil, ac.storeErr("failed to create layout", err, entity)
		}
		ac.record(EntityLayout, l.ID, OperationCreate, "")
	case err != nil:
		return nil, ac.storeErr("failed to look up layout", err, entity)
	default:
		ac.record(EntityLayout, l.ID, OperationNoop, "")
	}

	existing, err := ac.store.ListBoxes(ac.ctx, layout.ID)
	if err != nil {
		return nil, ac.storeErr("failed to list boxes", err, entity)
	}
	rl := &resolvedLayout{entity: layout, boxes: make(map[string]*stores.Box, len(existing))}
	for _, b := range existing {
		rl.boxes[b.Name] = b
	}

	err = l.Walk(func(parent, box *model.Box, position int) error {
		return ac.resolveBox(rl, parent, box, position)
	})
	if err != nil {
		return nil, err
	}

	ac.layouts[l.ID] = rl
	return rl, nil
}

func (ac *applyContext) resolveBox(rl *resolvedLayout, parent, b *model.Box, position int) error {
	name := rl.entity.Name + "/" + b.ID

	var parentID *int64
	if parent != nil {
		pb, ok := rl.boxes[parent.ID]
		if !ok {
			return NewConsistencyViolationError("parent box was not resolved before its child", nil).
				WithEntity("box:" + name)
		}
		parentID = &pb.ID
	}

	want := stores.Box{
		LayoutID:           rl.entity.ID,
		ParentID:           parentID,
		Name:               b.ID,
		BoxType:            b.BoxType,
		DefaultContentArea: b.DefaultContentArea,
		HTMLID:             b.HTMLID,
		HTMLClass:          b.HTMLClass,
		Position:           position,
	}

	box, ok := rl.boxes[b.ID]
	if !ok {
		box = &want
		if err := ac.store.CreateBox(ac.ctx, box); err != nil {
			return ac.storeErr("failed to create box", err, "box:"+name)
		}
		rl.boxes[b.ID] = box
		ac.record(EntityBox, name, OperationCreate, "")
		return nil
	}

	if sameBox(box, &want) {
		ac.record(EntityBox, name, OperationNoop, "")
		return nil
	}
	want.ID = box.ID
	*box = want
	if err := ac.store.UpdateBox(ac.ctx, box); err != nil {
		return ac.storeErr("failed to update box", err, "box:"+name)
	}
	ac.record(EntityBox, name, OperationUpdate, "")
	return nil
}

func sameBox(a, b *stores.Box) bool {
	return sameID(a.ParentID, b.ParentID) &&
		a.BoxType == b.BoxType &&
		a.DefaultContentArea == b.DefaultContentArea &&
		a.HTMLID == b.HTMLID &&
		a.HTMLClass == b.HTMLClass &&
		a.Position == b.Position
}

// attachResources resolves declared stylesheet and script fragments and
// attaches each to the owner once. Fragments without a match are skipped.
func (ac *applyContext) attachResources(kind stores.OwnerKind, ownerID int64, res model.Resources) error {
	if ac.r.resolver == nil {
		return nil
	}

	attach := func(typ stores.ResourceType, fragments []string) error {
		for _, fragment := range fragments {
			matches, err := ac.r.resolver.Resolve(fragment)
			if err != nil {
				return ac.storeErr("failed to resolve resource", err, "resource:"+fragment)
			}
			switch len(matches) {
			case 0:
				ac.logger.WithField("resource", fragment).Debug("no file matches resource, skipping")
				continue
			case 1:
			default:
				return NewAmbiguousMatchError(fmt.Sprintf("resource %q matches %d files", fragment, len(matches)), nil).
					WithCode(ErrCodeMultipleFiles).
					WithEntity(fmt.Sprintf("%s:%d", kind, ownerID)).
					WithDetail("resource", fragment)
			}

			created, err := ac.store.AttachResource(ac.ctx, &stores.ResourceAttachment{
				OwnerKind:    kind,
				OwnerID:      ownerID,
				ResourceType: typ,
				Path:         matches[0].Path,
			})
			if err != nil {
				return ac.storeErr("failed to attach resource", err, "resource:"+fragment)
			}
			op := OperationNoop
			if created {
				op = OperationCreate
			}
			ac.record(EntityResource, matches[0].Path, op, string(kind))
		}
		return nil
	}

	if err := attach(stores.ResourceCSS, res.CSSPaths); err != nil {
		return err
	}
	return attach(stores.ResourceJS, res.JavaScriptPaths)
}
