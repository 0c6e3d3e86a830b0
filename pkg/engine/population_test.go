package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/sitemodel/pkg/stores"
)

func TestProgrammaticName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Members Only", "members_only"},
		{"members-only", "members_only"},
		{"  Staff / Editors  ", "staff_editors"},
		{"Tier 2", "tier_2"},
		{"Ärzte", "ärzte"},
		{"---", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, programmaticName(tt.in))
		})
	}
}

func TestOrderPlacements(t *testing.T) {
	ids := []int64{10, 20, 30, 40}
	index := map[int64]int{30: 0, 10: 1}

	orderPlacements(ids, index)
	assert.Equal(t, []int64{30, 10, 20, 40}, ids)
}

func TestEnsurePermission(t *testing.T) {
	store := newTestStore(t)
	ac := newTestApplyContext(t, store)

	perm, err := ac.ensurePermission("members only", "page:a")
	require.NoError(t, err)
	assert.Equal(t, "members_only", perm.ProgrammaticName)
	assert.Equal(t, "Members Only", perm.DisplayName)

	again, err := ac.ensurePermission("members only", "page:b")
	require.NoError(t, err)
	assert.Same(t, perm, again)
	assert.Equal(t, 1, ac.result.Count(EntityPermission, OperationCreate))

	_, err = ac.ensurePermission("Members-Only", "page:c")
	requireKind(t, err, ErrorKindIdentityConflict, "")

	_, err = ac.ensurePermission("!!", "page:d")
	requireKind(t, err, ErrorKindInvalidDeclaration, ErrCodeValidation)
}

func TestSaveContent_RejectsPersistedPending(t *testing.T) {
	store := newTestStore(t)
	ac := newTestApplyContext(t, store)

	rc := &resolvedContent{
		entity:  &stores.ContentElement{ID: 1, Name: "banner"},
		pending: &pendingRevision{ID: 7, Locale: "en", Data: map[string]any{"html": "x"}},
	}
	err := ac.saveContent(rc)
	requireKind(t, err, ErrorKindConsistencyViolation, ErrCodeRevisionNotNew)
}

func TestSaveContent_ChildrenFirst(t *testing.T) {
	store := newTestStore(t)
	ac := newTestApplyContext(t, store)

	newContent := func(name string) *resolvedContent {
		e := &stores.ContentElement{SiteID: ac.site.ID, Name: name, Kind: "text", LastModifiedBy: "tester"}
		require.NoError(t, store.CreateContent(ac.ctx, e))
		return &resolvedContent{
			entity:  e,
			pending: &pendingRevision{Locale: "en", Data: map[string]any{"html": name}},
		}
	}
	child := newContent("child")
	parent := newContent("parent")
	parent.children = []*resolvedContent{child}

	require.NoError(t, ac.saveContent(parent))
	require.NoError(t, ac.saveContent(parent))

	require.Len(t, ac.result.Changes, 2)
	assert.Equal(t, "child", ac.result.Changes[0].Name)
	assert.Equal(t, "parent", ac.result.Changes[1].Name)
	assert.NotZero(t, child.pending.ID)
	require.NotNil(t, parent.entity.CurrentRevisionID)
}
