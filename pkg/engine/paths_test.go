package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/sitemodel/pkg/model"
	"github.com/openfroyo/sitemodel/pkg/stores"
)

// newTestApplyContext returns an apply context bound to a persisted site s1,
// outside of any transaction.
func newTestApplyContext(t *testing.T, store stores.Store) *applyContext {
	t.Helper()
	ctx := context.Background()

	site := &stores.Site{Name: "s1", PrimaryLocale: "en", DefaultTimezone: "UTC", CreatedBy: "tester"}
	require.NoError(t, store.CreateSite(ctx, site))

	r := NewReconciler(store)
	res := newApplyResult("run-1", "s1", "tester", false, time.Now())
	ac := newApplyContext(ctx, r, store, &model.Site{ID: "s1"}, res, r.logger)
	ac.site = site
	return ac
}

func TestPathRegistry_CreateAndRename(t *testing.T) {
	store := newTestStore(t)
	ac := newTestApplyContext(t, store)

	m, err := ac.paths.ensure(stores.OwnerContent, 42, "/news/")
	require.NoError(t, err)
	assert.Equal(t, "news", m.Path)
	assert.False(t, m.Wildcard)
	assert.Equal(t, 1, ac.result.Count(EntityPathMapping, OperationCreate))

	same, err := ac.paths.ensure(stores.OwnerContent, 42, "news")
	require.NoError(t, err)
	assert.Equal(t, m.ID, same.ID)
	assert.Equal(t, 1, ac.result.Summary.Unchanged)

	renamed, err := ac.paths.ensure(stores.OwnerContent, 42, "archive/news")
	require.NoError(t, err)
	assert.Equal(t, m.ID, renamed.ID)
	assert.Equal(t, "archive/news", renamed.Path)
	assert.Equal(t, 1, ac.result.Count(EntityPathMapping, OperationRename))

	wild, err := ac.paths.ensure(stores.OwnerContent, 42, "archive/news*")
	require.NoError(t, err)
	assert.True(t, wild.Wildcard)
	assert.Equal(t, 1, ac.result.Count(EntityPathMapping, OperationUpdate))

	all, err := store.ListMappings(context.Background(), ac.site.ID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestPathRegistry_Conflict(t *testing.T) {
	store := newTestStore(t)
	ac := newTestApplyContext(t, store)

	_, err := ac.paths.ensure(stores.OwnerPage, 1, "home")
	require.NoError(t, err)

	_, err = ac.paths.ensure(stores.OwnerContent, 7, "//home")
	requireKind(t, err, ErrorKindIdentityConflict, ErrCodePathTaken)

	// The owner may take its own path back after moving away from it.
	_, err = ac.paths.ensure(stores.OwnerPage, 1, "start")
	require.NoError(t, err)
	_, err = ac.paths.ensure(stores.OwnerPage, 1, "home")
	require.NoError(t, err)
}

func TestPathRegistry_SeesOtherApplies(t *testing.T) {
	store := newTestStore(t)
	ac := newTestApplyContext(t, store)

	require.NoError(t, store.CreateMapping(context.Background(), &stores.PathMapping{
		SiteID:    ac.site.ID,
		Path:      "docs",
		OwnerKind: stores.OwnerPage,
		OwnerID:   9,
	}))

	m, err := ac.paths.lookup("docs")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, int64(9), m.OwnerID)

	m, err = ac.paths.lookup("nothing")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestPagePath(t *testing.T) {
	assert.Equal(t, "home", pagePath(&model.Page{ID: "home"}))
	assert.Equal(t, "/start", pagePath(&model.Page{ID: "home", Path: "/start"}))
}
