package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/openfroyo/sitemodel/pkg/model"
	"github.com/openfroyo/sitemodel/pkg/resources"
	"github.com/openfroyo/sitemodel/pkg/stores"
	"github.com/openfroyo/sitemodel/pkg/telemetry"
)

// AuditActionSiteApplied is the audit action written after every committed apply.
const AuditActionSiteApplied = "site.applied"

// Reconciler applies declared sites to a store.
// It is safe to call Apply for different sites one after another; each call
// builds its own apply context and never shares caches with another call.
type Reconciler struct {
	store        stores.Store
	actor        ActorProvider
	placeholders PlaceholderResolver
	resolver     resources.Resolver
	scripts      ScriptEvaluator
	policy       PolicyEngine
	enforce      bool
	initialState bool
	tel          *telemetry.Telemetry
	logger       *telemetry.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithActor sets the identity stamped on created and modified entities.
func WithActor(actor ActorProvider) Option {
	return func(r *Reconciler) { r.actor = actor }
}

// WithPlaceholderResolver sets the resolver for hostname placeholders.
func WithPlaceholderResolver(p PlaceholderResolver) Option {
	return func(r *Reconciler) { r.placeholders = p }
}

// WithResourceResolver sets the resolver for css/js declarations and library files.
func WithResourceResolver(res resources.Resolver) Option {
	return func(r *Reconciler) { r.resolver = res }
}

// WithScriptEvaluator sets the evaluator used by Script content.
func WithScriptEvaluator(s ScriptEvaluator) Option {
	return func(r *Reconciler) { r.scripts = s }
}

// WithPolicyEngine checks every declared site before it is applied. With
// enforce set, an apply is refused when the result is not allowed;
// otherwise violations are reported as warnings.
func WithPolicyEngine(p PolicyEngine, enforce bool) Option {
	return func(r *Reconciler) {
		r.policy = p
		r.enforce = enforce
	}
}

// WithInitialRevisionState creates new revisions in the first workflow state
// of the site instead of the final one.
func WithInitialRevisionState() Option {
	return func(r *Reconciler) { r.initialState = true }
}

// WithTelemetry sets the logger, tracer, metrics and event publisher.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(r *Reconciler) { r.tel = tel }
}

// NewReconciler creates a reconciler for store.
func NewReconciler(store stores.Store, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:        store,
		actor:        StaticActor("system"),
		placeholders: PlaceholderResolverFunc(func(v string) (string, error) { return v, nil }),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.tel == nil {
		r.tel = telemetry.NewNop()
	}
	r.logger = r.tel.Logger.NewComponentLogger("reconciler")
	return r
}

// Apply reconciles one declared site against the store inside a single
// transaction. On error nothing is committed.
func (r *Reconciler) Apply(ctx context.Context, site *model.Site) (*ApplyResult, error) {
	return r.run(ctx, site, false)
}

// Plan runs the same reconciliation as Apply and rolls everything back. The
// result lists the writes Apply would make.
func (r *Reconciler) Plan(ctx context.Context, site *model.Site) (*ApplyResult, error) {
	return r.run(ctx, site, true)
}

// ApplyAll applies sites in order and stops at the first failure.
func (r *Reconciler) ApplyAll(ctx context.Context, sites []*model.Site) ([]*ApplyResult, error) {
	results := make([]*ApplyResult, 0, len(sites))
	for _, site := range sites {
		res, err := r.Apply(ctx, site)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (r *Reconciler) run(ctx context.Context, site *model.Site, dryRun bool) (*ApplyResult, error) {
	runID := uuid.New().String()
	actor := r.actor.Actor()
	name := ""
	if site != nil {
		name = site.ID
	}

	result := newApplyResult(runID, name, actor, dryRun, r.actor.Now())
	logger := r.logger.WithRunID(runID).WithSite(name)

	if telemetry.FromTelemetryContext(ctx) == nil {
		ctx = r.tel.WithContext(ctx)
	}
	ctx = telemetry.WithApplyContext(ctx, runID, name, actor, dryRun)

	err := r.reconcile(ctx, site, result, logger)

	result.CompletedAt = r.actor.Now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)
	telemetry.EndApplyContext(ctx, len(result.Changes), err)

	if err != nil {
		var re *ReconcileError
		if errors.As(err, &re) {
			r.tel.Metrics.RecordError(string(re.Kind), re.Code)
		} else {
			r.tel.Metrics.RecordError(string(ErrorKindStoreFailure), "")
		}
		logger.WithError(err).Error("apply failed")
		return result, err
	}

	if !dryRun {
		for _, c := range result.Changes {
			r.tel.Metrics.RecordEntityChange(string(c.Kind), string(c.Operation))
		}
	}
	logger.WithFields(map[string]interface{}{
		"created":   result.Summary.Created,
		"updated":   result.Summary.Updated,
		"trashed":   result.Summary.Trashed,
		"revisions": result.Summary.Revisions,
		"renamed":   result.Summary.Renamed,
		"unchanged": result.Summary.Unchanged,
		"dry_run":   dryRun,
		"duration":  result.Duration.String(),
	}).Info("apply completed")

	return result, nil
}

func (r *Reconciler) reconcile(ctx context.Context, site *model.Site, result *ApplyResult, logger *telemetry.Logger) error {
	if err := r.validate(site); err != nil {
		return err
	}
	if err := r.checkPolicies(ctx, site, result); err != nil {
		return err
	}

	exec := r.store.InTx
	if result.DryRun {
		exec = r.store.DryRun
	}

	return exec(ctx, func(tx stores.Store) error {
		ac := newApplyContext(ctx, r, tx, site, result, logger)
		if err := ac.apply(); err != nil {
			return err
		}
		return ac.audit()
	})
}

// validate rejects declarations that cannot be applied at all.
func (r *Reconciler) validate(site *model.Site) error {
	if site == nil {
		return NewInvalidDeclarationError("site is nil", nil).WithCode(ErrCodeValidation)
	}
	if len(site.Hostnames) == 0 {
		return NewInvalidDeclarationError("site has no hostnames", nil).
			WithCode(ErrCodeNoHostnames).
			WithEntity("site:" + site.ID)
	}
	if err := model.Validate(site); err != nil {
		return NewInvalidDeclarationError("site failed validation", err).
			WithCode(ErrCodeValidation).
			WithEntity("site:" + site.ID)
	}
	return nil
}

func (r *Reconciler) checkPolicies(ctx context.Context, site *model.Site, result *ApplyResult) error {
	if r.policy == nil {
		return nil
	}

	res, err := r.policy.EvaluateSite(ctx, site)
	if err != nil {
		return fmt.Errorf("failed to evaluate policies: %w", err)
	}

	for _, v := range res.Violations {
		r.tel.Metrics.RecordPolicyViolation(v.Policy, v.Severity)
		_ = r.tel.Events.PublishPolicyViolation(site.ID, v.Entity, v.Policy, v.Message)
	}

	if r.enforce && !res.Allowed {
		msgs := make([]string, 0, len(res.Violations))
		for _, v := range res.Violations {
			msgs = append(msgs, fmt.Sprintf("%s: %s", v.Policy, v.Message))
		}
		return NewInvalidDeclarationError("site violates policies", errors.New(strings.Join(msgs, "; "))).
			WithCode(ErrCodePolicyViolation).
			WithEntity("site:"+site.ID).
			WithDetail("violations", res.Violations)
	}

	result.PolicyWarnings = append(result.PolicyWarnings, res.Violations...)
	return nil
}

// audit writes the apply summary. A dry run writes it too; the rollback
// discards it with everything else.
func (ac *applyContext) audit() error {
	details, err := json.Marshal(map[string]interface{}{
		"run_id":  ac.result.RunID,
		"summary": ac.result.Summary,
		"changes": len(ac.result.Changes),
	})
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}

	target := ac.decl.ID
	detailStr := string(details)
	entry := &stores.AuditEntry{
		Action:    AuditActionSiteApplied,
		Actor:     ac.actor,
		TargetID:  &target,
		Details:   &detailStr,
		Timestamp: ac.now,
	}
	if err := ac.store.CreateAuditEntry(ac.ctx, entry); err != nil {
		return NewStoreError("failed to write audit entry", err)
	}
	return nil
}
