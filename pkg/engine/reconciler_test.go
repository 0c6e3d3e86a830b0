package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/sitemodel/pkg/model"
	"github.com/openfroyo/sitemodel/pkg/resources"
	"github.com/openfroyo/sitemodel/pkg/stores"
)

func newTestStore(t *testing.T) *stores.SQLiteStore {
	t.Helper()

	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.Migrate(ctx))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// scenario is the s1 declaration: one hostname welcoming page home, which uses
// template t1 on layout l1 and places banner into box main.
type scenario struct {
	site   *model.Site
	home   *model.Page
	banner *model.Text
	main   *model.Box
	t1     *model.Template
}

func newScenario() *scenario {
	main := &model.Box{ID: "main", DefaultContentArea: true}
	l1 := &model.Layout{ID: "l1", Boxes: []*model.Box{main}}
	t1 := &model.Template{ID: "t1", Layout: l1}
	banner := &model.Text{
		ContentBase: model.ContentBase{ID: "banner", Path: "banner"},
		HTML:        "<p>Welcome</p>",
	}
	home := &model.Page{
		ID:       "home",
		Path:     "home",
		Template: t1,
		Content:  []model.Placement{{Slot: "main", Content: []model.Content{banner}}},
	}
	site := &model.Site{
		ID:        "s1",
		Hostnames: []model.Hostname{{Address: "a.example.com", WelcomePage: home}},
		Pages:     []*model.Page{home},
	}
	return &scenario{site: site, home: home, banner: banner, main: main, t1: t1}
}

func text(id, html string) *model.Text {
	return &model.Text{ContentBase: model.ContentBase{ID: id}, HTML: html}
}

func requireKind(t *testing.T, err error, kind ErrorKind, code string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, KindOf(err), "error: %v", err)
	if code != "" {
		var re *ReconcileError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, code, re.Code)
	}
}

func placedNames(t *testing.T, store stores.Store, siteID int64, kind stores.OwnerKind, ownerID, boxID int64) []string {
	t.Helper()
	ctx := context.Background()

	placements, err := store.ListPlacements(ctx, kind, ownerID, boxID)
	require.NoError(t, err)
	names := make([]string, 0, len(placements))
	for _, p := range placements {
		c, err := store.GetContentByID(ctx, p.ContentID)
		require.NoError(t, err)
		names = append(names, c.Name)
	}
	return names
}

func TestApply_ExampleScenario(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	r := NewReconciler(store, WithActor(StaticActor("tester")))
	sc := newScenario()

	first, err := r.Apply(ctx, sc.site)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Count(EntitySite, OperationCreate))
	assert.Equal(t, 1, first.Count(EntityHostname, OperationCreate))
	assert.Equal(t, 1, first.Count(EntityTemplate, OperationCreate))
	assert.Equal(t, 1, first.Count(EntityLayout, OperationCreate))
	assert.Equal(t, 1, first.Count(EntityBox, OperationCreate))
	assert.Equal(t, 1, first.Count(EntityPage, OperationCreate))
	assert.Equal(t, 1, first.Count(EntityContent, OperationCreate))
	assert.Equal(t, 1, first.Count(EntityContent, OperationRevise))
	assert.Equal(t, 2, first.Count(EntityPathMapping, OperationCreate))

	site, err := store.GetSiteByName(ctx, "s1")
	require.NoError(t, err)
	host, err := store.GetHostname(ctx, "a.example.com")
	require.NoError(t, err)
	assert.True(t, host.IsDefault)
	require.NotNil(t, site.DefaultHostnameID)
	assert.Equal(t, host.ID, *site.DefaultHostnameID)

	home, err := store.GetPage(ctx, site.ID, "home")
	require.NoError(t, err)
	require.NotNil(t, host.WelcomePageID)
	assert.Equal(t, home.ID, *host.WelcomePageID)

	mapping, err := store.FindExactMapping(ctx, site.ID, "home")
	require.NoError(t, err)
	assert.Equal(t, stores.OwnerPage, mapping.OwnerKind)
	assert.Equal(t, home.ID, mapping.OwnerID)

	second, err := r.Apply(ctx, sc.site)
	require.NoError(t, err)
	assert.False(t, second.HasChanges(), "second apply wrote %v", second.Changes)
	assert.Zero(t, second.Summary.Created)
	assert.Zero(t, second.Summary.Revisions)

	before, err := store.ListMappings(ctx, site.ID)
	require.NoError(t, err)
	bannerBefore, err := store.FindExactMapping(ctx, site.ID, "banner")
	require.NoError(t, err)

	sc.banner.Path = "promo/banner"
	third, err := r.Apply(ctx, sc.site)
	require.NoError(t, err)
	assert.Equal(t, 1, third.Count(EntityPathMapping, OperationRename))
	assert.Zero(t, third.Summary.Created)
	assert.Zero(t, third.Summary.Revisions)

	after, err := store.ListMappings(ctx, site.ID)
	require.NoError(t, err)
	assert.Len(t, after, len(before))

	bannerAfter, err := store.FindExactMapping(ctx, site.ID, "promo/banner")
	require.NoError(t, err)
	assert.Equal(t, bannerBefore.ID, bannerAfter.ID)

	_, err = store.FindExactMapping(ctx, site.ID, "banner")
	assert.True(t, stores.IsNotFound(err))
}

func TestApply_RevisionSemantics(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	r := NewReconciler(store)
	sc := newScenario()

	_, err := r.Apply(ctx, sc.site)
	require.NoError(t, err)

	sc.banner.HTML = "<p>Hello again</p>"
	res, err := r.Apply(ctx, sc.site)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Summary.Revisions)
	assert.Zero(t, res.Summary.Created)

	res, err = r.Apply(ctx, sc.site)
	require.NoError(t, err)
	assert.Zero(t, res.Summary.Revisions)

	site, err := store.GetSiteByName(ctx, "s1")
	require.NoError(t, err)
	banner, err := store.GetContent(ctx, site.ID, "banner")
	require.NoError(t, err)

	revs, err := store.ListRevisions(ctx, banner.ID)
	require.NoError(t, err)
	require.Len(t, revs, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(revs[0].Data), &first))
	assert.Equal(t, "<p>Welcome</p>", first["html"])
	assert.Equal(t, stores.WorkflowPublished, revs[0].State)

	require.NotNil(t, banner.CurrentRevisionID)
	assert.Equal(t, revs[1].ID, *banner.CurrentRevisionID)
	assert.Equal(t, 2, revs[1].Number)
}

type wideNumberScripts struct{}

func (wideNumberScripts) EvaluateStarlark(context.Context, string, map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{"n": int64(9007199254740993)}, nil
}

func TestApply_ScriptWideIntegersStable(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	r := NewReconciler(store, WithScriptEvaluator(wideNumberScripts{}))
	sc := newScenario()
	sc.site.Content = []model.Content{&model.Script{ContentBase: model.ContentBase{ID: "counter"}, Source: "n = 1"}}

	res, err := r.Apply(ctx, sc.site)
	require.NoError(t, err)
	require.Equal(t, 1, res.Count(EntityContent, OperationRevise))

	for i := 0; i < 2; i++ {
		res, err = r.Apply(ctx, sc.site)
		require.NoError(t, err)
		assert.Zero(t, res.Summary.Revisions, "re-apply %d", i+1)
	}

	site, err := store.GetSiteByName(ctx, "s1")
	require.NoError(t, err)
	counter, err := store.GetContent(ctx, site.ID, "counter")
	require.NoError(t, err)
	rev, err := store.GetRevision(ctx, *counter.CurrentRevisionID)
	require.NoError(t, err)
	assert.Contains(t, rev.Data, "9007199254740993")
}

func TestApply_InitialRevisionState(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	r := NewReconciler(store, WithInitialRevisionState())

	_, err := r.Apply(ctx, newScenario().site)
	require.NoError(t, err)

	site, err := store.GetSiteByName(ctx, "s1")
	require.NoError(t, err)
	banner, err := store.GetContent(ctx, site.ID, "banner")
	require.NoError(t, err)
	revs, err := store.ListRevisions(ctx, banner.ID)
	require.NoError(t, err)
	require.Len(t, revs, 1)
	assert.Equal(t, stores.WorkflowDraft, revs[0].State)
}

func TestApply_HostnameConflict(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	r := NewReconciler(store)

	_, err := r.Apply(ctx, newScenario().site)
	require.NoError(t, err)

	other := newScenario()
	other.site.ID = "s2"
	_, err = r.Apply(ctx, other.site)
	requireKind(t, err, ErrorKindIdentityConflict, ErrCodeHostnameTaken)

	_, err = store.GetSiteByName(ctx, "s2")
	assert.True(t, stores.IsNotFound(err), "conflicting apply must not create a site")
}

func TestApply_AuthenticationPage(t *testing.T) {
	ctx := context.Background()

	t.Run("forward reference", func(t *testing.T) {
		store := newTestStore(t)
		sc := newScenario()
		login := &model.Page{ID: "login", Template: sc.t1}
		account := &model.Page{
			ID:                 "account",
			Template:           sc.t1,
			Permission:         "Members Only",
			AuthenticationPage: login,
		}
		sc.site.Pages = append(sc.site.Pages, account, login)

		_, err := NewReconciler(store).Apply(ctx, sc.site)
		require.NoError(t, err)

		site, err := store.GetSiteByName(ctx, "s1")
		require.NoError(t, err)
		acc, err := store.GetPage(ctx, site.ID, "account")
		require.NoError(t, err)
		lp, err := store.GetPage(ctx, site.ID, "login")
		require.NoError(t, err)
		require.NotNil(t, acc.AuthenticationPageID)
		assert.Equal(t, lp.ID, *acc.AuthenticationPageID)

		perm, err := store.GetPermission(ctx, site.ID, "members_only")
		require.NoError(t, err)
		assert.Equal(t, "Members Only", perm.DisplayName)
		assert.Equal(t, stores.SecurityLevelSharedSecret, perm.MinimumSecurityLevel)
		require.NotNil(t, acc.PermissionID)
		assert.Equal(t, perm.ID, *acc.PermissionID)
	})

	t.Run("undeclared page", func(t *testing.T) {
		store := newTestStore(t)
		sc := newScenario()
		sc.home.AuthenticationPage = &model.Page{ID: "login", Template: sc.t1}

		_, err := NewReconciler(store).Apply(ctx, sc.site)
		requireKind(t, err, ErrorKindMissingReference, ErrCodeMissingAuthPage)

		_, err = store.GetSiteByName(ctx, "s1")
		assert.True(t, stores.IsNotFound(err), "failed apply must roll back")
	})
}

func TestApply_ConcurrentPermissionNames(t *testing.T) {
	ctx := context.Background()
	names := []string{"members only", "staff area", "partner portal", "beta testers"}

	storesByName := make(map[string]*stores.SQLiteStore, len(names))
	for _, name := range names {
		storesByName[name] = newTestStore(t)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(names))
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			sc := newScenario()
			sc.home.Permission = name
			login := &model.Page{ID: "login", Template: sc.t1}
			sc.home.AuthenticationPage = login
			sc.site.Pages = append(sc.site.Pages, login)
			if _, err := NewReconciler(storesByName[name]).Apply(ctx, sc.site); err != nil {
				errs <- fmt.Errorf("%s: %w", name, err)
			}
		}(name)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	want := map[string][2]string{
		"members only":   {"members_only", "Members Only"},
		"staff area":     {"staff_area", "Staff Area"},
		"partner portal": {"partner_portal", "Partner Portal"},
		"beta testers":   {"beta_testers", "Beta Testers"},
	}
	for name, store := range storesByName {
		site, err := store.GetSiteByName(ctx, "s1")
		require.NoError(t, err)
		perm, err := store.GetPermission(ctx, site.ID, want[name][0])
		require.NoError(t, err)
		assert.Equal(t, want[name][1], perm.DisplayName)
	}
}

func TestApply_SlotOrdering(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	r := NewReconciler(store)
	sc := newScenario()

	a, b, c := text("a", "A"), text("b", "B"), text("c", "C")
	sc.home.Content = []model.Placement{{Slot: "main", Content: []model.Content{a, b, c}}}
	_, err := r.Apply(ctx, sc.site)
	require.NoError(t, err)

	site, err := store.GetSiteByName(ctx, "s1")
	require.NoError(t, err)
	home, err := store.GetPage(ctx, site.ID, "home")
	require.NoError(t, err)
	boxes, err := store.ListBoxes(ctx, home.LayoutID)
	require.NoError(t, err)
	require.Len(t, boxes, 1)
	main := boxes[0].ID

	assert.Equal(t, []string{"a", "b", "c"}, placedNames(t, store, site.ID, stores.OwnerPage, home.ID, main))

	sc.home.Content[0].Content = []model.Content{c, a, b}
	res, err := r.Apply(ctx, sc.site)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count(EntityPlacement, OperationUpdate))
	assert.Zero(t, res.Summary.Revisions)
	assert.Equal(t, []string{"c", "a", "b"}, placedNames(t, store, site.ID, stores.OwnerPage, home.ID, main))

	// c is no longer declared but not removed either; it keeps its place
	// after the declared items.
	sc.home.Content[0].Content = []model.Content{b, a}
	_, err = r.Apply(ctx, sc.site)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c"}, placedNames(t, store, site.ID, stores.OwnerPage, home.ID, main))

	sc.home.ContentToRemove = []model.Content{c}
	res, err = r.Apply(ctx, sc.site)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count(EntityContent, OperationTrash))
	assert.Equal(t, []string{"b", "a"}, placedNames(t, store, site.ID, stores.OwnerPage, home.ID, main))

	_, err = store.GetContent(ctx, site.ID, "c")
	assert.True(t, stores.IsNotFound(err))
}

func TestApply_SharedTemplatePopulatedOnce(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	sc := newScenario()

	footer := text("footer", "<footer/>")
	sc.t1.Content = []model.Placement{{Slot: "main", Content: []model.Content{footer}}}
	about := &model.Page{ID: "about", Template: sc.t1}
	sc.site.Pages = append(sc.site.Pages, about)

	res, err := NewReconciler(store).Apply(ctx, sc.site)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count(EntityTemplate, OperationCreate))

	updates := 0
	for _, c := range res.Changes {
		if c.Kind == EntityPlacement && c.Name == "t1/main" {
			updates++
		}
	}
	assert.Equal(t, 1, updates)

	site, err := store.GetSiteByName(ctx, "s1")
	require.NoError(t, err)
	tmpl, err := store.GetTemplate(ctx, site.ID, "t1")
	require.NoError(t, err)
	boxes, err := store.ListBoxes(ctx, tmpl.LayoutID)
	require.NoError(t, err)
	assert.Equal(t, []string{"footer"}, placedNames(t, store, site.ID, stores.OwnerTemplate, tmpl.ID, boxes[0].ID))
}

func TestApply_Delegates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	r := NewReconciler(store)
	sc := newScenario()

	intro := text("intro", "<p>intro</p>")
	body := &model.Markdown{ContentBase: model.ContentBase{ID: "body"}, Source: "# Title"}
	stale := text("stale", "old")
	group := &model.Container{
		ContentBase: model.ContentBase{ID: "group"},
		Children:    []model.Content{intro, body, stale},
	}
	card := &model.Composite{
		ContentBase: model.ContentBase{ID: "card"},
		Children: []model.Delegate{
			{Purpose: "header", Content: intro},
			{Content: group},
		},
	}
	sc.home.Content = []model.Placement{{Slot: "main", Content: []model.Content{card}}}

	res, err := r.Apply(ctx, sc.site)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Count(EntityContent, OperationCreate))
	assert.Equal(t, 5, res.Count(EntityContent, OperationRevise))

	// Children are saved before their parents.
	var order []string
	for _, c := range res.Changes {
		if c.Kind == EntityContent && c.Operation == OperationRevise {
			order = append(order, c.Name)
		}
	}
	assert.Equal(t, []string{"intro", "body", "stale", "group", "card"}, order)

	site, err := store.GetSiteByName(ctx, "s1")
	require.NoError(t, err)
	groupEntity, err := store.GetContent(ctx, site.ID, "group")
	require.NoError(t, err)
	links, err := store.ListDelegates(ctx, groupEntity.ID)
	require.NoError(t, err)
	require.Len(t, links, 3)
	assert.Equal(t, model.DefaultPurpose, links[0].Purpose)

	cardEntity, err := store.GetContent(ctx, site.ID, "card")
	require.NoError(t, err)
	links, err = store.ListDelegates(ctx, cardEntity.ID)
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "header", links[0].Purpose)

	res, err = r.Apply(ctx, sc.site)
	require.NoError(t, err)
	assert.False(t, res.HasChanges(), "unchanged delegates rewrote %v", res.Changes)

	group.ContentToRemove = []model.Content{stale}
	res, err = r.Apply(ctx, sc.site)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count(EntityContent, OperationTrash))
	links, err = store.ListDelegates(ctx, groupEntity.ID)
	require.NoError(t, err)
	assert.Len(t, links, 2)
}

func TestApply_ContainerReturnsAfterChildRemoved(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	r := NewReconciler(store)
	sc := newScenario()

	child := text("c", "<p>c</p>")
	box := &model.Container{ContentBase: model.ContentBase{ID: "x"}, Children: []model.Content{child}}
	sc.home.Content = []model.Placement{{Slot: "main", Content: []model.Content{sc.banner, box}}}
	_, err := r.Apply(ctx, sc.site)
	require.NoError(t, err)

	sc.home.Content = []model.Placement{{Slot: "main", Content: []model.Content{sc.banner}}}
	sc.site.ContentToRemove = []model.Content{child}
	res, err := r.Apply(ctx, sc.site)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count(EntityContent, OperationTrash))

	sc.home.Content = []model.Placement{{Slot: "main", Content: []model.Content{sc.banner, box}}}
	sc.site.ContentToRemove = nil
	_, err = r.Apply(ctx, sc.site)
	require.NoError(t, err)

	site, err := store.GetSiteByName(ctx, "s1")
	require.NoError(t, err)
	xEntity, err := store.GetContent(ctx, site.ID, "x")
	require.NoError(t, err)
	cEntity, err := store.GetContent(ctx, site.ID, "c")
	require.NoError(t, err)

	links, err := store.ListDelegates(ctx, xEntity.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, cEntity.ID, links[0].ChildID)

	res, err = r.Apply(ctx, sc.site)
	require.NoError(t, err)
	assert.False(t, res.HasChanges(), "re-apply wrote %v", res.Changes)
}

func TestApply_DelegateCycle(t *testing.T) {
	store := newTestStore(t)
	sc := newScenario()

	a := &model.Container{ContentBase: model.ContentBase{ID: "a"}}
	b := &model.Container{ContentBase: model.ContentBase{ID: "b"}, Children: []model.Content{a}}
	a.Children = []model.Content{b}
	sc.home.Content = []model.Placement{{Slot: "main", Content: []model.Content{a}}}

	_, err := NewReconciler(store).Apply(context.Background(), sc.site)
	requireKind(t, err, ErrorKindConsistencyViolation, ErrCodeDelegateCycle)
}

func TestApply_MissingBox(t *testing.T) {
	store := newTestStore(t)
	sc := newScenario()
	sc.home.Content = append(sc.home.Content, model.Placement{Slot: "sidebar", Content: []model.Content{text("x", "x")}})

	_, err := NewReconciler(store).Apply(context.Background(), sc.site)
	requireKind(t, err, ErrorKindMissingReference, ErrCodeMissingBox)
}

func TestApply_NoHostnames(t *testing.T) {
	store := newTestStore(t)
	sc := newScenario()
	sc.site.Hostnames = nil

	_, err := NewReconciler(store).Apply(context.Background(), sc.site)
	requireKind(t, err, ErrorKindInvalidDeclaration, ErrCodeNoHostnames)
}

func TestApply_ConflictingContentDeclarations(t *testing.T) {
	store := newTestStore(t)
	sc := newScenario()
	about := &model.Page{
		ID:       "about",
		Template: sc.t1,
		Content:  []model.Placement{{Slot: "main", Content: []model.Content{text("banner", "<p>OTHER</p>")}}},
	}
	sc.site.Pages = append(sc.site.Pages, about)

	_, err := NewReconciler(store).Apply(context.Background(), sc.site)
	requireKind(t, err, ErrorKindInvalidDeclaration, ErrCodeValidation)
	assert.Contains(t, err.Error(), "banner declared more than once")
}

func TestApply_PathTaken(t *testing.T) {
	store := newTestStore(t)
	sc := newScenario()
	sc.banner.Path = "/home/"

	_, err := NewReconciler(store).Apply(context.Background(), sc.site)
	requireKind(t, err, ErrorKindIdentityConflict, ErrCodePathTaken)
}

func TestApply_PlaceholderHostnames(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	sc := newScenario()
	sc.site.Hostnames[0].Address = "${DOMAIN}"

	resolve := PlaceholderResolverFunc(func(v string) (string, error) {
		if v == "${DOMAIN}" {
			return "docs.example.org", nil
		}
		return "", fmt.Errorf("unknown placeholder %s", v)
	})
	_, err := NewReconciler(store, WithPlaceholderResolver(resolve)).Apply(ctx, sc.site)
	require.NoError(t, err)

	host, err := store.GetHostname(ctx, "docs.example.org")
	require.NoError(t, err)
	assert.True(t, host.IsDefault)

	sc.site.Hostnames[0].Address = "${MISSING}"
	_, err = NewReconciler(store, WithPlaceholderResolver(resolve)).Apply(ctx, sc.site)
	requireKind(t, err, ErrorKindInvalidDeclaration, ErrCodePlaceholder)
}

func TestApply_DefaultHostnameMoves(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	r := NewReconciler(store)
	sc := newScenario()
	sc.site.Hostnames = append(sc.site.Hostnames, model.Hostname{Address: "b.example.com"})

	_, err := r.Apply(ctx, sc.site)
	require.NoError(t, err)

	sc.site.Hostnames[0], sc.site.Hostnames[1] = sc.site.Hostnames[1], sc.site.Hostnames[0]
	_, err = r.Apply(ctx, sc.site)
	require.NoError(t, err)

	site, err := store.GetSiteByName(ctx, "s1")
	require.NoError(t, err)
	hosts, err := store.ListHostnames(ctx, site.ID)
	require.NoError(t, err)
	defaults := 0
	for _, h := range hosts {
		if h.IsDefault {
			defaults++
			assert.Equal(t, "b.example.com", h.Address)
			assert.Equal(t, h.ID, *site.DefaultHostnameID)
		}
	}
	assert.Equal(t, 1, defaults)
}

func TestApply_WelcomePageCleared(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	r := NewReconciler(store)
	sc := newScenario()

	_, err := r.Apply(ctx, sc.site)
	require.NoError(t, err)
	host, err := store.GetHostname(ctx, "a.example.com")
	require.NoError(t, err)
	require.NotNil(t, host.WelcomePageID)

	sc.site.Hostnames[0].WelcomePage = nil
	res, err := r.Apply(ctx, sc.site)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count(EntityHostname, OperationUpdate))

	host, err = store.GetHostname(ctx, "a.example.com")
	require.NoError(t, err)
	assert.Nil(t, host.WelcomePageID)

	res, err = r.Apply(ctx, sc.site)
	require.NoError(t, err)
	assert.False(t, res.HasChanges(), "re-apply wrote %v", res.Changes)
}

func TestApply_RemovedPages(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	r := NewReconciler(store)
	sc := newScenario()

	old := &model.Page{ID: "old", Path: "legacy", Template: sc.t1}
	sc.site.Pages = append(sc.site.Pages, old)
	_, err := r.Apply(ctx, sc.site)
	require.NoError(t, err)

	sc.site.Pages = sc.site.Pages[:1]
	sc.site.PagesToRemove = []*model.Page{old}
	res, err := r.Apply(ctx, sc.site)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count(EntityPage, OperationTrash))

	site, err := store.GetSiteByName(ctx, "s1")
	require.NoError(t, err)
	_, err = store.GetPage(ctx, site.ID, "old")
	assert.True(t, stores.IsNotFound(err))
	_, err = store.FindExactMapping(ctx, site.ID, "legacy")
	assert.True(t, stores.IsNotFound(err))

	res, err = r.Apply(ctx, sc.site)
	require.NoError(t, err)
	assert.False(t, res.HasChanges())
}

func TestApply_SiteContent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	r := NewReconciler(store)
	sc := newScenario()

	notice := &model.Text{ContentBase: model.ContentBase{ID: "notice", Path: "notice*"}, HTML: "<p>notice</p>"}
	gone := text("gone", "bye")
	sc.site.Content = []model.Content{notice, gone}
	_, err := r.Apply(ctx, sc.site)
	require.NoError(t, err)

	site, err := store.GetSiteByName(ctx, "s1")
	require.NoError(t, err)
	mapping, err := store.FindExactMapping(ctx, site.ID, "notice")
	require.NoError(t, err)
	assert.True(t, mapping.Wildcard)
	assert.Equal(t, stores.OwnerContent, mapping.OwnerKind)

	sc.site.ContentToRemove = []model.Content{gone}
	res, err := r.Apply(ctx, sc.site)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count(EntityContent, OperationTrash))
	assert.Zero(t, res.Count(EntityContent, OperationCreate))
}

func TestApply_ApplicationFunction(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	r := NewReconciler(store)
	sc := newScenario()

	search := &model.ApplicationFunction{
		ContentBase:  model.ContentBase{ID: "search"},
		Function:     "search",
		ComponentID:  "search-app",
		RegisterLink: true,
		Parameters:   map[string]string{"limit": "10"},
	}
	sc.home.Content[0].Content = append(sc.home.Content[0].Content, search)

	res, err := r.Apply(ctx, sc.site)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count(EntityRegisteredLink, OperationCreate))
	assert.Equal(t, 1, res.Count(EntityComponent, OperationCreate))

	site, err := store.GetSiteByName(ctx, "s1")
	require.NoError(t, err)
	link, err := store.FindRegisteredLink(ctx, site.ID, "search", "home")
	require.NoError(t, err)
	home, err := store.GetPage(ctx, site.ID, "home")
	require.NoError(t, err)
	assert.Equal(t, home.ID, link.PageID)

	components, err := store.ListComponents(ctx, site.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"search-app"}, components)

	res, err = r.Apply(ctx, sc.site)
	require.NoError(t, err)
	assert.False(t, res.HasChanges())
}

type fakeScripts struct {
	calls int
}

func (f *fakeScripts) EvaluateStarlark(_ context.Context, script string, input map[string]interface{}) (map[string]interface{}, error) {
	f.calls++
	return map[string]interface{}{"script": script, "name": input["name"]}, nil
}

func TestApply_LibrariesAndResources(t *testing.T) {
	ctx := context.Background()
	fsys := fstest.MapFS{
		"static/css/site.css":      {Data: []byte("body{}")},
		"static/js/app.js":         {Data: []byte("run()")},
		"lib/greeting.star":        {Data: []byte("greeting = 'hi ' + name")},
		"themes/a/theme.css":       {Data: []byte("a")},
		"themes/b/theme.css":       {Data: []byte("b")},
		"lib/old/shared.star":      {Data: []byte("x = 1")},
		"vendor/lib/shared.star":   {Data: []byte("x = 2")},
		"static/img/unused.svg":    {Data: []byte("<svg/>")},
		"static/css/print/doc.css": {Data: []byte("@media print{}")},
	}
	resolver := resources.NewFSResolver(fsys)

	t.Run("resolved", func(t *testing.T) {
		store := newTestStore(t)
		scripts := &fakeScripts{}
		r := NewReconciler(store, WithResourceResolver(resolver), WithScriptEvaluator(scripts))
		sc := newScenario()

		lib := &model.Library{ID: "greeting", Path: "greeting.star", Type: "starlark"}
		sc.site.Libraries = []*model.Library{lib}
		sc.home.CSSPaths = []string{"site.css", "missing.css"}
		sc.home.JavaScriptPaths = []string{"app.js"}
		greet := &model.Script{
			ContentBase: model.ContentBase{ID: "greet"},
			Library:     lib,
			Input:       map[string]any{"name": "world"},
		}
		sc.home.Content[0].Content = append(sc.home.Content[0].Content, greet)

		res, err := r.Apply(ctx, sc.site)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Count(EntityLibrary, OperationCreate))
		assert.Equal(t, 2, res.Count(EntityResource, OperationCreate))

		site, err := store.GetSiteByName(ctx, "s1")
		require.NoError(t, err)
		stored, err := store.GetLibrary(ctx, site.ID, "greeting")
		require.NoError(t, err)
		assert.Equal(t, "lib/greeting.star", stored.Path)

		home, err := store.GetPage(ctx, site.ID, "home")
		require.NoError(t, err)
		attached, err := store.ListResources(ctx, stores.OwnerPage, home.ID)
		require.NoError(t, err)
		assert.Len(t, attached, 2)

		content, err := store.GetContent(ctx, site.ID, "greet")
		require.NoError(t, err)
		rev, err := store.GetRevision(ctx, *content.CurrentRevisionID)
		require.NoError(t, err)
		assert.Contains(t, rev.Data, `"name":"world"`)
		assert.Contains(t, rev.Data, `"library":"greeting"`)

		res, err = r.Apply(ctx, sc.site)
		require.NoError(t, err)
		assert.False(t, res.HasChanges(), "second apply wrote %v", res.Changes)
		assert.Equal(t, 2, scripts.calls)
	})

	t.Run("ambiguous resource", func(t *testing.T) {
		store := newTestStore(t)
		sc := newScenario()
		sc.t1.CSSPaths = []string{"theme.css"}

		_, err := NewReconciler(store, WithResourceResolver(resolver)).Apply(ctx, sc.site)
		requireKind(t, err, ErrorKindAmbiguousMatch, ErrCodeMultipleFiles)
	})

	t.Run("ambiguous library", func(t *testing.T) {
		store := newTestStore(t)
		sc := newScenario()
		sc.site.Libraries = []*model.Library{{ID: "shared", Path: "shared.star"}}

		_, err := NewReconciler(store, WithResourceResolver(resolver)).Apply(ctx, sc.site)
		requireKind(t, err, ErrorKindAmbiguousMatch, ErrCodeMultipleFiles)
	})

	t.Run("missing library", func(t *testing.T) {
		store := newTestStore(t)
		sc := newScenario()
		sc.site.Libraries = []*model.Library{{ID: "nope", Path: "nope.star"}}

		_, err := NewReconciler(store, WithResourceResolver(resolver)).Apply(ctx, sc.site)
		requireKind(t, err, ErrorKindMissingReference, "")
	})

	t.Run("script without evaluator", func(t *testing.T) {
		store := newTestStore(t)
		sc := newScenario()
		script := &model.Script{ContentBase: model.ContentBase{ID: "calc"}, Source: "x = 1"}
		sc.site.Content = []model.Content{script}

		_, err := NewReconciler(store).Apply(ctx, sc.site)
		requireKind(t, err, ErrorKindMissingReference, "")
	})
}

type fakePolicy struct {
	result *PolicyResult
}

func (f *fakePolicy) EvaluateSite(context.Context, *model.Site) (*PolicyResult, error) {
	return f.result, nil
}

func TestApply_Policies(t *testing.T) {
	ctx := context.Background()
	denied := &fakePolicy{result: &PolicyResult{
		Allowed: false,
		Violations: []PolicyViolation{
			{Policy: "page_paths", Message: "page home has no path", Severity: "error", Entity: "page:home"},
		},
		EvaluatedAt: time.Now(),
	}}

	t.Run("enforced", func(t *testing.T) {
		store := newTestStore(t)
		_, err := NewReconciler(store, WithPolicyEngine(denied, true)).Apply(ctx, newScenario().site)
		requireKind(t, err, ErrorKindInvalidDeclaration, ErrCodePolicyViolation)

		_, err = store.GetSiteByName(ctx, "s1")
		assert.True(t, stores.IsNotFound(err))
	})

	t.Run("advisory", func(t *testing.T) {
		store := newTestStore(t)
		res, err := NewReconciler(store, WithPolicyEngine(denied, false)).Apply(ctx, newScenario().site)
		require.NoError(t, err)
		require.Len(t, res.PolicyWarnings, 1)
		assert.Equal(t, "page_paths", res.PolicyWarnings[0].Policy)
	})
}

func TestPlan_RollsBack(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	r := NewReconciler(store)

	res, err := r.Plan(ctx, newScenario().site)
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, 1, res.Count(EntitySite, OperationCreate))
	assert.Equal(t, 1, res.Summary.Revisions)

	_, err = store.GetSiteByName(ctx, "s1")
	assert.True(t, stores.IsNotFound(err))

	entries, err := store.ListAuditEntries(ctx, nil, nil, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestApply_WritesAuditEntry(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	res, err := NewReconciler(store, WithActor(StaticActor("deploy-bot"))).Apply(ctx, newScenario().site)
	require.NoError(t, err)

	action := AuditActionSiteApplied
	entries, err := store.ListAuditEntries(ctx, &action, nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "deploy-bot", entries[0].Actor)
	require.NotNil(t, entries[0].Details)
	assert.Contains(t, *entries[0].Details, res.RunID)
}

func TestApplyAll_StopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	ok := newScenario().site
	bad := newScenario().site
	bad.ID = "s2"
	bad.Hostnames = nil
	never := newScenario().site
	never.ID = "s3"
	never.Hostnames[0].Address = "c.example.com"

	results, err := NewReconciler(store).ApplyAll(ctx, []*model.Site{ok, bad, never})
	requireKind(t, err, ErrorKindInvalidDeclaration, ErrCodeNoHostnames)
	assert.Len(t, results, 1)

	_, err = store.GetSiteByName(ctx, "s3")
	assert.True(t, stores.IsNotFound(err))
}
