package engine

import (
	"context"
	"errors"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/openfroyo/sitemodel/pkg/model"
	"github.com/openfroyo/sitemodel/pkg/stores"
	"github.com/openfroyo/sitemodel/pkg/telemetry"
)

// resolvedLayout is a persisted layout with its box topology indexed by name.
type resolvedLayout struct {
	entity *stores.Layout
	boxes  map[string]*stores.Box
}

type resolvedTemplate struct {
	decl   *model.Template
	entity *stores.Template
	layout *resolvedLayout
}

type resolvedPage struct {
	decl     *model.Page
	entity   *stores.Page
	template *resolvedTemplate
	layout   *resolvedLayout
}

// resolvedContent tracks one content element through an apply:
// resolved, optionally revision-pending, saved.
type resolvedContent struct {
	decl     model.Content
	entity   *stores.ContentElement
	children []*resolvedContent
	pending  *pendingRevision
	saved    bool
}

// pendingRevision is a dataset produced by instantiation that has not been
// written yet. ID stays zero until the revision manager persists it.
type pendingRevision struct {
	ID     int64
	Locale string
	Data   map[string]any
}

// applyContext holds every cache of one apply. It is created at the start of
// Apply and dropped when Apply returns.
type applyContext struct {
	ctx    context.Context
	r      *Reconciler
	store  stores.Store
	decl   *model.Site
	site   *stores.Site
	result *ApplyResult
	logger *telemetry.Logger
	tel    *telemetry.Telemetry

	actor string
	now   time.Time

	// hostnames holds the declared addresses with placeholders resolved.
	hostnames []string

	pages     map[string]*resolvedPage
	templates map[string]*resolvedTemplate
	layouts   map[string]*resolvedLayout

	// populated holds templates whose slots were filled in this apply.
	populated mapset.Set[string]

	// removed holds content names trashed by the removal pre-pass.
	removed mapset.Set[string]

	// removedPages holds page names excluded from both passes.
	removedPages mapset.Set[string]

	contents map[string]*resolvedContent

	// instantiating is the current delegate recursion stack.
	instantiating mapset.Set[string]

	permissions     map[string]*stores.Permission
	permissionNames map[string]string
	libraries       map[string]*model.LibraryFile
	links           mapset.Set[string]

	paths *pathRegistry
}

func newApplyContext(ctx context.Context, r *Reconciler, store stores.Store, site *model.Site, result *ApplyResult, logger *telemetry.Logger) *applyContext {
	ac := &applyContext{
		ctx:           ctx,
		r:             r,
		store:         store,
		decl:          site,
		result:        result,
		logger:        logger,
		tel:           r.tel,
		actor:         result.Actor,
		now:           result.StartedAt,
		pages:         make(map[string]*resolvedPage),
		templates:     make(map[string]*resolvedTemplate),
		layouts:       make(map[string]*resolvedLayout),
		populated:     mapset.NewThreadUnsafeSet[string](),
		removed:       mapset.NewThreadUnsafeSet[string](),
		removedPages:  mapset.NewThreadUnsafeSet[string](),
		contents:      make(map[string]*resolvedContent),
		instantiating: mapset.NewThreadUnsafeSet[string](),
		permissions:   make(map[string]*stores.Permission),
		libraries:     make(map[string]*model.LibraryFile),
		links:         mapset.NewThreadUnsafeSet[string](),

		permissionNames: make(map[string]string),
	}
	ac.paths = newPathRegistry(ac)
	return ac
}

// apply runs every phase in order.
func (ac *applyContext) apply() error {
	phases := []struct {
		name string
		fn   func() error
	}{
		{"preflight", ac.preflight},
		{"site", ac.resolveSite},
		{"removal", ac.removeDeclared},
		{"hostnames", ac.resolveHostnames},
		{"libraries", ac.registerLibraries},
		{"pass1", ac.pass1},
		{"pass2", ac.pass2},
		{"site_content", ac.siteContent},
	}

	for _, phase := range phases {
		err := telemetry.RecordPhase(ac.ctx, phase.name, func(ctx context.Context) error {
			return phase.fn()
		})
		if err != nil {
			return withPhase(err, phase.name)
		}
	}
	return nil
}

// record adds a change to the result and publishes it.
func (ac *applyContext) record(kind EntityKind, name string, op OperationType, detail string) {
	ac.result.record(kind, name, op, detail)
	if op == OperationNoop {
		return
	}
	telemetry.AddEntityEvent(ac.ctx, string(kind), name, string(op))
	if !ac.result.DryRun {
		_ = ac.tel.Events.PublishEntityChanged(ac.result.RunID, ac.decl.ID, string(kind)+":"+name, string(op))
	}
}

// storeErr classifies an unexpected store error.
func (ac *applyContext) storeErr(msg string, err error, entity string) error {
	var re *ReconcileError
	if errors.As(err, &re) {
		return err
	}
	return NewStoreError(msg, err).WithEntity(entity)
}

// withPhase stamps the phase on classified errors and wraps the rest as store
// failures.
func withPhase(err error, phase string) error {
	var re *ReconcileError
	if !errors.As(err, &re) {
		return NewStoreError("apply failed", err).WithPhase(phase)
	}
	if re.Phase == "" {
		re.Phase = phase
	}
	return re
}

// revisionState returns the workflow state new revisions are written in.
func (ac *applyContext) revisionState() string {
	if ac.r.initialState {
		return ac.site.InitialState()
	}
	return ac.site.FinalState()
}
