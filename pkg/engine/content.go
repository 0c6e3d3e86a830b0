package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openfroyo/sitemodel/pkg/model"
	"github.com/openfroyo/sitemodel/pkg/stores"
)

// instantiate resolves a declared content element to its persisted entity.
// New content is created; existing content is checked for modification and
// gets a pending revision when its data changed. Delegates are resolved
// depth first. The result is cached by name for the rest of the apply.
func (ac *applyContext) instantiate(c model.Content) (*resolvedContent, error) {
	base := c.Base()
	name := base.ID
	if rc, ok := ac.contents[name]; ok {
		return rc, nil
	}
	entityName := "content:" + name

	if !ac.instantiating.Add(name) {
		return nil, NewConsistencyViolationError("content delegates form a cycle", nil).
			WithCode(ErrCodeDelegateCycle).
			WithEntity(entityName)
	}
	defer ac.instantiating.Remove(name)

	logger := ac.logger.WithContent(name, string(c.Kind()))
	h := &contentHelper{ac: ac}

	rc := &resolvedContent{decl: c}
	entity, err := ac.store.GetContent(ac.ctx, ac.site.ID, name)
	switch {
	case stores.IsNotFound(err):
		inst, err := c.CreateInstance(h)
		if err != nil {
			return nil, contentErr(err, entityName)
		}
		entity = &stores.ContentElement{
			SiteID:         ac.site.ID,
			Name:           name,
			Kind:           string(inst.Kind),
			HTMLID:         base.HTMLID,
			HTMLClass:      base.HTMLClass,
			LastModifiedBy: ac.actor,
		}
		if err := ac.store.CreateContent(ac.ctx, entity); err != nil {
			return nil, ac.storeErr("failed to create content", err, entityName)
		}
		ac.record(EntityContent, name, OperationCreate, string(inst.Kind))
		rc.pending = ac.pendingFrom(inst)
		logger.Debug("created content")

	case err != nil:
		return nil, ac.storeErr("failed to look up content", err, entityName)

	default:
		existing, err := ac.existingView(entity)
		if err != nil {
			return nil, err
		}
		modified, err := c.IsModified(h, existing)
		if err != nil {
			return nil, contentErr(err, entityName)
		}
		if modified {
			inst, err := c.CreateInstanceFrom(h, existing)
			if err != nil {
				return nil, contentErr(err, entityName)
			}
			rc.pending = ac.pendingFrom(inst)
			logger.Debug("content modified")
		}

		if entity.Kind != string(c.Kind()) || entity.HTMLID != base.HTMLID || entity.HTMLClass != base.HTMLClass {
			entity.Kind = string(c.Kind())
			entity.HTMLID = base.HTMLID
			entity.HTMLClass = base.HTMLClass
			entity.LastModifiedBy = ac.actor
			if err := ac.store.UpdateContent(ac.ctx, entity); err != nil {
				return nil, ac.storeErr("failed to update content", err, entityName)
			}
			ac.record(EntityContent, name, OperationUpdate, "metadata")
		} else if rc.pending == nil {
			ac.record(EntityContent, name, OperationNoop, "")
		}
	}
	rc.entity = entity

	if d, ok := c.(model.Delegating); ok {
		if err := ac.resolveDelegates(rc, d); err != nil {
			return nil, err
		}
	}

	if base.Path != "" {
		if _, err := ac.paths.ensure(stores.OwnerContent, entity.ID, base.Path); err != nil {
			return nil, err
		}
	}
	if err := ac.attachResources(stores.OwnerContent, entity.ID, base.Resources); err != nil {
		return nil, err
	}

	ac.contents[name] = rc
	return rc, nil
}

func (ac *applyContext) pendingFrom(inst *model.Instance) *pendingRevision {
	if inst == nil || inst.DataSet == nil {
		return nil
	}
	locale := inst.DataSet.Locale
	if locale == "" {
		locale = ac.decl.Locale()
	}
	return &pendingRevision{Locale: locale, Data: inst.DataSet.Data}
}

// existingView decodes the current revision of a content element. Content
// without a revision has no view.
func (ac *applyContext) existingView(e *stores.ContentElement) (*model.Existing, error) {
	if e.CurrentRevisionID == nil {
		return nil, nil
	}
	rev, err := ac.store.GetRevision(ac.ctx, *e.CurrentRevisionID)
	if err != nil {
		return nil, ac.storeErr("failed to load current revision", err, "content:"+e.Name)
	}

	data := map[string]any{}
	if rev.Data != "" {
		dec := json.NewDecoder(strings.NewReader(rev.Data))
		dec.UseNumber()
		if err := dec.Decode(&data); err != nil {
			return nil, NewStoreError("failed to decode revision data", err).WithEntity("content:" + e.Name)
		}
	}
	return &model.Existing{
		Name:   e.Name,
		Kind:   model.Kind(e.Kind),
		Locale: rev.Locale,
		Data:   data,
	}, nil
}

// resolveDelegates instantiates the declared children of rc and appends the
// ones not yet linked. Existing links are kept in place. Links to trashed
// content are gone already: trashing a child unlinks it.
func (ac *applyContext) resolveDelegates(rc *resolvedContent, d model.Delegating) error {
	existing, err := ac.store.ListDelegates(ac.ctx, rc.entity.ID)
	if err != nil {
		return ac.storeErr("failed to list delegates", err, "content:"+rc.entity.Name)
	}

	var skip []model.Content
	if ctr, ok := d.(*model.Container); ok {
		skip = ctr.ContentToRemove
	}

	changed := false
	links := make([]*stores.Delegate, 0, len(existing))
	linked := make(map[int64]*stores.Delegate, len(existing))
	for _, link := range existing {
		links = append(links, link)
		linked[link.ChildID] = link
	}

	for _, child := range d.Delegates() {
		if child.Content == nil {
			continue
		}
		name := child.Content.Base().ID
		if ac.removed.Contains(name) || containsContent(skip, name) {
			continue
		}

		crc, err := ac.instantiate(child.Content)
		if err != nil {
			return err
		}
		rc.children = append(rc.children, crc)

		purpose := child.Purpose
		if purpose == "" {
			purpose = model.DefaultPurpose
		}
		if link, ok := linked[crc.entity.ID]; ok {
			if link.Purpose != purpose {
				link.Purpose = purpose
				changed = true
			}
			continue
		}
		link := &stores.Delegate{ParentID: rc.entity.ID, ChildID: crc.entity.ID, Purpose: purpose}
		links = append(links, link)
		linked[crc.entity.ID] = link
		changed = true
	}

	if !changed {
		return nil
	}
	if err := ac.store.ReplaceDelegates(ac.ctx, rc.entity.ID, links); err != nil {
		return ac.storeErr("failed to save delegates", err, "content:"+rc.entity.Name)
	}
	ac.record(EntityDelegate, rc.entity.Name, OperationUpdate, fmt.Sprintf("%d children", len(links)))
	return nil
}

func containsContent(list []model.Content, name string) bool {
	for _, c := range list {
		if c != nil && c.Base().ID == name {
			return true
		}
	}
	return false
}

// contentErr keeps classified errors and marks everything else as a content
// declaration that could not be instantiated.
func contentErr(err error, entity string) error {
	var re *ReconcileError
	if errors.As(err, &re) {
		return re
	}
	return NewInvalidDeclarationError("cannot instantiate content", err).
		WithCode(ErrCodeContentInstance).
		WithEntity(entity)
}

// contentHelper exposes apply-scoped services to content variants.
type contentHelper struct {
	ac *applyContext
}

func (h *contentHelper) Site() string { return h.ac.decl.ID }

func (h *contentHelper) Locale() string { return h.ac.decl.Locale() }

func (h *contentHelper) AssignToSite(componentID string) error {
	created, err := h.ac.store.AssignComponent(h.ac.ctx, h.ac.site.ID, componentID)
	if err != nil {
		return h.ac.storeErr("failed to assign component", err, "component:"+componentID)
	}
	op := OperationNoop
	if created {
		op = OperationCreate
	}
	h.ac.record(EntityComponent, componentID, op, "")
	return nil
}

func (h *contentHelper) LoadLibrary(lib *model.Library) (*model.LibraryFile, error) {
	return h.ac.loadLibrary(lib)
}

func (h *contentHelper) EvalScript(source string, input map[string]any) (map[string]any, error) {
	if h.ac.r.scripts == nil {
		return nil, NewMissingReferenceError("no script evaluator configured", nil)
	}
	if input == nil {
		input = map[string]any{}
	}
	return h.ac.r.scripts.EvaluateStarlark(h.ac.ctx, source, input)
}
