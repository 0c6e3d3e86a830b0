package engine

import (
	"fmt"

	"github.com/openfroyo/sitemodel/pkg/model"
	"github.com/openfroyo/sitemodel/pkg/stores"
)

// pathRegistry binds clean paths to pages and content for one apply. It keeps
// the mappings touched by the apply indexed by path so that lookups see
// writes made earlier in the same apply.
type pathRegistry struct {
	ac     *applyContext
	byPath map[string]*stores.PathMapping
}

func newPathRegistry(ac *applyContext) *pathRegistry {
	return &pathRegistry{
		ac:     ac,
		byPath: make(map[string]*stores.PathMapping),
	}
}

// lookup returns the mapping bound to a clean path, or nil.
func (p *pathRegistry) lookup(path string) (*stores.PathMapping, error) {
	if m, ok := p.byPath[path]; ok {
		return m, nil
	}
	m, err := p.ac.store.FindExactMapping(p.ac.ctx, p.ac.site.ID, path)
	if stores.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, p.ac.storeErr("failed to look up path", err, "path:"+path)
	}
	p.byPath[path] = m
	return m, nil
}

// ensure binds the declared path to the owner. An owner that already has a
// mapping keeps it and has its path rewritten, so the mapping identity
// survives renames. A path held by a different owner is a conflict.
func (p *pathRegistry) ensure(kind stores.OwnerKind, ownerID int64, declared string) (*stores.PathMapping, error) {
	ac := p.ac
	path := model.CleanPath(declared)
	wildcard := model.IsWildcard(declared)

	held, err := p.lookup(path)
	if err != nil {
		return nil, err
	}
	if held != nil && (held.OwnerKind != kind || held.OwnerID != ownerID) {
		return nil, NewIdentityConflictError(
			fmt.Sprintf("path %q is bound to %s %d", path, held.OwnerKind, held.OwnerID), nil).
			WithCode(ErrCodePathTaken).
			WithEntity(fmt.Sprintf("%s:%d", kind, ownerID)).
			WithDetail("path", path)
	}

	current, err := ac.store.FindMappingByOwner(ac.ctx, kind, ownerID)
	if err != nil && !stores.IsNotFound(err) {
		return nil, ac.storeErr("failed to look up owner path", err, "path:"+path)
	}

	if current == nil {
		m := &stores.PathMapping{
			SiteID:    ac.site.ID,
			Path:      path,
			Wildcard:  wildcard,
			OwnerKind: kind,
			OwnerID:   ownerID,
		}
		if err := ac.store.CreateMapping(ac.ctx, m); err != nil {
			return nil, ac.storeErr("failed to create path mapping", err, "path:"+path)
		}
		p.byPath[path] = m
		ac.record(EntityPathMapping, path, OperationCreate, "")
		return m, nil
	}

	if current.Path == path && current.Wildcard == wildcard {
		p.byPath[path] = current
		ac.record(EntityPathMapping, path, OperationNoop, "")
		return current, nil
	}

	old := current.Path
	delete(p.byPath, old)
	current.Path = path
	current.Wildcard = wildcard
	if err := ac.store.SaveMapping(ac.ctx, current); err != nil {
		return nil, ac.storeErr("failed to rename path mapping", err, "path:"+path)
	}
	p.byPath[path] = current

	if old == path {
		ac.record(EntityPathMapping, path, OperationUpdate, "wildcard")
		return current, nil
	}

	ac.record(EntityPathMapping, path, OperationRename, old+" -> "+path)
	if !ac.result.DryRun {
		ac.tel.Metrics.RecordPathRename(ac.decl.ID)
		_ = ac.tel.Events.PublishPathRenamed(ac.result.RunID, ac.decl.ID, fmt.Sprintf("%s:%d", kind, ownerID), old, path)
	}
	return current, nil
}

// pagePath returns the path a page is bound to: the declared path, or the page
// name when none is declared.
func pagePath(p *model.Page) string {
	if p.Path != "" {
		return p.Path
	}
	return p.ID
}
