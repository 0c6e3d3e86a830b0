// Package telemetry instruments site applies: zerolog loggers, OpenTelemetry
// spans, Prometheus metrics and an in-process event publisher, built from
// one Config and shared through a context.
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//	ctx = tel.WithContext(ctx)
//
// NewNop returns telemetry that records nothing; the reconciler uses it when
// it is given none.
//
// # Applies
//
// WithApplyContext opens the root "site.apply" span of one run and scopes the
// context logger to it. Each phase runs through RecordPhase, which opens a
// "site.apply.<phase>" child span and records the phase duration.
// EndApplyContext closes the run:
//
//	ctx = telemetry.WithApplyContext(ctx, runID, "docs", actor, false)
//	err := telemetry.RecordPhase(ctx, "pass1", reconcileStructure)
//	telemetry.EndApplyContext(ctx, len(changes), err)
//
// # Metrics
//
// Served at /metrics on Metrics.ListenAddress when enabled, under the
// configured namespace (default "sitemodel"):
//
//   - applies_started_total{site,mode}, applies_completed_total{site,status}
//   - apply_duration_seconds{status}, apply_phase_duration_seconds{phase}
//   - entity_changes_total{kind,operation}, revisions_created_total{site,kind}
//   - path_renames_total{site}, policy_violations_total{policy,severity}
//   - errors_by_kind_total{kind}, errors_by_code_total{code}
//   - model_reloads_total{status}, active_applies
//
// # Events
//
// Subscribers receive apply, entity, revision, path, policy and reload
// events, optionally narrowed with FilterByLevel, FilterByType, FilterByRunID
// or FilterBySite. Events of a dry run are not published for entities.
package telemetry
