package engine

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/openfroyo/sitemodel/pkg/model"
	"github.com/openfroyo/sitemodel/pkg/stores"
)

// pass2 fills the slots of every declared page and of each template once,
// then wires permissions and authentication pages.
func (ac *applyContext) pass2() error {
	for _, p := range ac.declaredPages() {
		if ac.removedPages.Contains(p.ID) {
			continue
		}
		rp, err := ac.pagePass1(p)
		if err != nil {
			return err
		}
		if err := ac.pagePass2(rp); err != nil {
			return err
		}
	}
	return nil
}

func (ac *applyContext) pagePass2(rp *resolvedPage) error {
	if t := rp.template; t != nil && ac.populated.Add(t.decl.ID) {
		owner := slotOwner{kind: stores.OwnerTemplate, id: t.entity.ID, name: t.decl.ID}
		for _, slot := range t.decl.Content {
			if err := ac.populateSlot(owner, t.layout, slot, nil); err != nil {
				return err
			}
		}
	}

	owner := slotOwner{kind: stores.OwnerPage, id: rp.entity.ID, name: rp.decl.ID}
	for _, slot := range rp.decl.Content {
		if err := ac.populateSlot(owner, rp.layout, slot, rp); err != nil {
			return err
		}
	}

	return ac.wireAccess(rp)
}

type slotOwner struct {
	kind stores.OwnerKind
	id   int64
	name string
}

// populateSlot instantiates the declared content of one slot, appends what is
// not placed yet and reorders the slot to match the declaration. Placed content
// that is no longer declared keeps its place after the declared items.
func (ac *applyContext) populateSlot(owner slotOwner, layout *resolvedLayout, slot model.Placement, page *resolvedPage) error {
	slotName := owner.name + "/" + slot.Slot
	box, ok := layout.boxes[slot.Slot]
	if !ok {
		return NewMissingReferenceError(
			fmt.Sprintf("layout %s has no box %q", layout.entity.Name, slot.Slot), nil).
			WithCode(ErrCodeMissingBox).
			WithEntity(fmt.Sprintf("%s:%s", owner.kind, owner.name)).
			WithDetail("slot", slot.Slot)
	}

	live, err := ac.store.ListPlacements(ac.ctx, owner.kind, owner.id, box.ID)
	if err != nil {
		return ac.storeErr("failed to list placements", err, "slot:"+slotName)
	}
	current := make([]int64, 0, len(live))
	placed := make(map[int64]bool, len(live))
	for _, p := range live {
		current = append(current, p.ContentID)
		placed[p.ContentID] = true
	}

	ids := append([]int64(nil), current...)
	index := make(map[int64]int, len(slot.Content))
	for i, c := range slot.Content {
		if c == nil || ac.removed.Contains(c.Base().ID) {
			continue
		}

		rc, err := ac.instantiate(c)
		if err != nil {
			return err
		}
		if err := ac.saveContent(rc); err != nil {
			return err
		}

		id := rc.entity.ID
		if _, seen := index[id]; !seen {
			index[id] = i
		}
		if !placed[id] {
			ids = append(ids, id)
			placed[id] = true
		}

		if af, ok := c.(*model.ApplicationFunction); ok && af.RegisterLink && page != nil {
			if err := ac.registerLink(af, page); err != nil {
				return err
			}
		}
	}

	orderPlacements(ids, index)
	if equalIDs(ids, current) {
		ac.record(EntityPlacement, slotName, OperationNoop, "")
		return nil
	}
	if err := ac.store.ReplacePlacements(ac.ctx, owner.kind, owner.id, box.ID, ids); err != nil {
		return ac.storeErr("failed to save placements", err, "slot:"+slotName)
	}
	ac.record(EntityPlacement, slotName, OperationUpdate, fmt.Sprintf("%d items", len(ids)))
	return nil
}

// orderPlacements stably sorts ids by declared index. Ids without an index
// sort last and keep their relative order.
func orderPlacements(ids []int64, index map[int64]int) {
	rank := func(id int64) int {
		if i, ok := index[id]; ok {
			return i
		}
		return len(index) + 1<<20
	}
	sort.SliceStable(ids, func(i, j int) bool {
		return rank(ids[i]) < rank(ids[j])
	})
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// registerLink routes an application function to the page it is placed on.
func (ac *applyContext) registerLink(af *model.ApplicationFunction, page *resolvedPage) error {
	link := model.CleanPath(pagePath(page.decl))
	if !ac.links.Add(af.Function + "\x00" + link) {
		return nil
	}
	name := af.Function + " -> " + link

	_, err := ac.store.FindRegisteredLink(ac.ctx, ac.site.ID, af.Function, link)
	if err == nil {
		ac.record(EntityRegisteredLink, name, OperationNoop, "")
		return nil
	}
	if !stores.IsNotFound(err) {
		return ac.storeErr("failed to look up registered link", err, "link:"+name)
	}

	rl := &stores.RegisteredLink{
		SiteID:       ac.site.ID,
		FunctionName: af.Function,
		PageID:       page.entity.ID,
		Link:         link,
	}
	if err := ac.store.CreateRegisteredLink(ac.ctx, rl); err != nil {
		return ac.storeErr("failed to register link", err, "link:"+name)
	}
	ac.record(EntityRegisteredLink, name, OperationCreate, "")
	return nil
}

// wireAccess attaches the declared permission and authentication page.
func (ac *applyContext) wireAccess(rp *resolvedPage) error {
	decl := rp.decl
	entity := "page:" + decl.ID

	var permissionID *int64
	if decl.Permission != "" {
		perm, err := ac.ensurePermission(decl.Permission, entity)
		if err != nil {
			return err
		}
		permissionID = &perm.ID
	}

	var authID *int64
	if auth := decl.AuthenticationPage; auth != nil {
		resolved, ok := ac.pages[auth.ID]
		if !ok {
			return NewMissingReferenceError(
				fmt.Sprintf("authentication page %q is not a declared page", auth.ID), nil).
				WithCode(ErrCodeMissingAuthPage).
				WithEntity(entity)
		}
		authID = &resolved.entity.ID
	}

	page := rp.entity
	if sameID(page.PermissionID, permissionID) && sameID(page.AuthenticationPageID, authID) {
		return nil
	}
	page.PermissionID = permissionID
	page.AuthenticationPageID = authID
	page.LastModifiedBy = ac.actor
	if err := ac.store.UpdatePage(ac.ctx, page); err != nil {
		return ac.storeErr("failed to update page access", err, entity)
	}
	ac.record(EntityPage, decl.ID, OperationUpdate, "permission/authentication")
	return nil
}

// ensurePermission resolves or creates the permission for a display name.
// Permissions are keyed by programmatic name; two different display names
// with the same programmatic name in one apply are a conflict.
func (ac *applyContext) ensurePermission(display, entity string) (*stores.Permission, error) {
	prog := programmaticName(display)
	if prog == "" {
		return nil, NewInvalidDeclarationError(fmt.Sprintf("permission %q has no usable name", display), nil).
			WithCode(ErrCodeValidation).
			WithEntity(entity)
	}

	if seen, ok := ac.permissionNames[prog]; ok && seen != display {
		return nil, NewIdentityConflictError(
			fmt.Sprintf("permissions %q and %q share the name %s", seen, display, prog), nil).
			WithEntity(entity)
	}
	ac.permissionNames[prog] = display
	if perm, ok := ac.permissions[prog]; ok {
		return perm, nil
	}

	perm, err := ac.store.GetPermission(ac.ctx, ac.site.ID, prog)
	switch {
	case stores.IsNotFound(err):
		perm = &stores.Permission{
			SiteID:               ac.site.ID,
			ProgrammaticName:     prog,
			DisplayName:          cases.Title(language.English).String(display),
			MinimumSecurityLevel: stores.SecurityLevelSharedSecret,
		}
		if err := ac.store.CreatePermission(ac.ctx, perm); err != nil {
			return nil, ac.storeErr("failed to create permission", err, "permission:"+prog)
		}
		ac.record(EntityPermission, prog, OperationCreate, "")
	case err != nil:
		return nil, ac.storeErr("failed to look up permission", err, "permission:"+prog)
	default:
		ac.record(EntityPermission, prog, OperationNoop, "")
	}

	ac.permissions[prog] = perm
	return perm, nil
}

// programmaticName lowercases a display name and joins its words with '_'.
func programmaticName(display string) string {
	words := strings.FieldsFunc(strings.ToLower(display), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(words, "_")
}

// siteContent instantiates the declared site-level content.
func (ac *applyContext) siteContent() error {
	for _, c := range ac.decl.Content {
		if c == nil || ac.removed.Contains(c.Base().ID) {
			continue
		}
		rc, err := ac.instantiate(c)
		if err != nil {
			return err
		}
		if err := ac.saveContent(rc); err != nil {
			return err
		}
	}
	return nil
}
