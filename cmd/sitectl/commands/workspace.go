package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/sitemodel/pkg/config"
	"github.com/openfroyo/sitemodel/pkg/engine"
	"github.com/openfroyo/sitemodel/pkg/model"
	"github.com/openfroyo/sitemodel/pkg/policy"
	"github.com/openfroyo/sitemodel/pkg/resources"
	"github.com/openfroyo/sitemodel/pkg/stores"
	"github.com/openfroyo/sitemodel/pkg/telemetry"
)

// workspace bundles the components one sitectl invocation works with.
type workspace struct {
	settings   *Settings
	store      *stores.SQLiteStore
	parser     *config.CUEParser
	policies   *policy.Engine
	tel        *telemetry.Telemetry
	reconciler *engine.Reconciler
}

// openWorkspace opens and migrates the store and builds a reconciler wired
// to the parser, the policy engine and telemetry.
func openWorkspace(ctx context.Context, s *Settings, version string) (*workspace, error) {
	tel, err := telemetry.NewTelemetry(s.TelemetryConfig(version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	store, err := openStore(ctx, s)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	ws := &workspace{
		settings: s,
		store:    store,
		parser:   config.NewCUEParser(),
		tel:      tel,
	}

	opts := []engine.Option{
		engine.WithActor(engine.StaticActor(s.Actor)),
		engine.WithPlaceholderResolver(config.NewEnvResolver()),
		engine.WithResourceResolver(resources.NewFSResolver(os.DirFS(s.WebRoot))),
		engine.WithScriptEvaluator(ws.parser),
		engine.WithTelemetry(tel),
	}
	if s.RevisionState == "initial" {
		opts = append(opts, engine.WithInitialRevisionState())
	}

	if s.Policy.Mode != policyOff {
		pe, err := newPolicyEngine(ctx, s, *tel.Logger.NewComponentLogger("policy").Zerolog())
		if err != nil {
			ws.Close(ctx)
			return nil, err
		}
		ws.policies = pe
		opts = append(opts, engine.WithPolicyEngine(pe, s.Policy.Mode == policyEnforce))
	}

	ws.reconciler = engine.NewReconciler(store, opts...)
	return ws, nil
}

func openStore(ctx context.Context, s *Settings) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: s.Database.Path})
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

func newPolicyEngine(ctx context.Context, s *Settings, logger zerolog.Logger) (*policy.Engine, error) {
	pe, err := policy.NewEngine(logger)
	if err != nil {
		return nil, err
	}
	pe.SetContext(policy.PolicyContext{
		User:        s.Actor,
		Environment: s.Policy.Environment,
	})
	if len(s.Policy.Paths) > 0 {
		if err := pe.LoadPolicies(ctx, s.Policy.Paths); err != nil {
			return nil, err
		}
	}
	for _, name := range s.Policy.Disable {
		if err := pe.DisablePolicy(name); err != nil {
			return nil, err
		}
	}
	return pe, nil
}

// load parses the declared model from paths, or from the configured model
// sources when paths is empty.
func (ws *workspace) load(ctx context.Context, paths []string) ([]*model.Site, error) {
	if len(paths) == 0 {
		paths = ws.settings.Model
	}
	return ws.parser.Load(ctx, paths)
}

// Close releases the store and flushes telemetry.
func (ws *workspace) Close(ctx context.Context) {
	if ws.store != nil {
		if err := ws.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close store")
		}
	}
	if err := ws.tel.Shutdown(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
}
