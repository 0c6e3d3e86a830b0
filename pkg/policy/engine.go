package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage"
	"github.com/open-policy-agent/opa/v1/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/openfroyo/sitemodel/pkg/engine"
	"github.com/openfroyo/sitemodel/pkg/model"
)

// Engine evaluates Rego policies against declared sites. It implements
// engine.PolicyEngine.
type Engine struct {
	logger zerolog.Logger
	store  storage.Store

	mu       sync.RWMutex
	compiled map[string]*compiledPolicy
	context  PolicyContext
}

type compiledPolicy struct {
	policy *Policy
	query  rego.PreparedEvalQuery
}

// NewEngine returns an engine holding the built-in policies.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		logger: logger.With().Str("component", "policy-engine").Logger(),
		store:  inmem.New(),
	}
	builtins, err := e.compileAll(context.Background(), GetBuiltinPolicies())
	if err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}
	e.compiled = builtins
	e.logger.Debug().Int("count", len(builtins)).Msg("Built-in policies loaded")
	return e, nil
}

// SetContext sets the context passed to every evaluation. Timestamp is
// filled in per evaluation.
func (e *Engine) SetContext(pc PolicyContext) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.context = pc
}

// EvaluateSite checks a declared site against every enabled policy.
func (e *Engine) EvaluateSite(ctx context.Context, site *model.Site) (*engine.PolicyResult, error) {
	if site == nil {
		return nil, fmt.Errorf("site is nil")
	}

	e.mu.RLock()
	pc := e.context
	e.mu.RUnlock()
	pc.Timestamp = time.Now()
	if pc.Operation == "" {
		pc.Operation = "apply"
	}

	return e.Evaluate(ctx, &PolicyInput{Site: NewSiteInput(site), Context: &pc})
}

// Evaluate runs every enabled policy in name order. A policy that fails to
// evaluate becomes a warning; it never blocks.
func (e *Engine) Evaluate(ctx context.Context, input *PolicyInput) (*engine.PolicyResult, error) {
	if input == nil || input.Site == nil {
		return nil, fmt.Errorf("policy input has no site")
	}

	started := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()
	set := e.compiled

	result := &engine.PolicyResult{Allowed: true}
	for _, name := range sortedKeys(set) {
		cp := set[name]
		if !cp.policy.Enabled {
			continue
		}
		found, err := cp.eval(ctx, input)
		if err != nil {
			e.logger.Warn().Err(err).Str("policy", name).Str("site", input.Site.ID).Msg("Policy evaluation failed")
			result.Warnings = append(result.Warnings, fmt.Sprintf("Policy %s evaluation failed: %v", name, err))
			continue
		}
		for _, v := range found {
			if Severity(v.Severity).Blocks() {
				result.Allowed = false
			}
		}
		result.Violations = append(result.Violations, found...)
	}
	result.EvaluatedAt = time.Now()

	e.logger.Debug().
		Str("site", input.Site.ID).
		Int("violations", len(result.Violations)).
		Bool("allowed", result.Allowed).
		Dur("took", time.Since(started)).
		Msg("Policies evaluated")
	return result, nil
}

// eval runs the deny query. Deny is a set, so violations are sorted by
// entity and message to keep output stable between runs.
func (cp *compiledPolicy) eval(ctx context.Context, input *PolicyInput) ([]engine.PolicyViolation, error) {
	rs, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}

	var out []engine.PolicyViolation
	for _, r := range rs {
		for _, expr := range r.Expressions {
			entries, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, entry := range entries {
				out = append(out, toViolation(cp.policy, entry))
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Entity != out[j].Entity {
			return out[i].Entity < out[j].Entity
		}
		return out[i].Message < out[j].Message
	})
	return out, nil
}

// toViolation decodes one deny entry. Entries are plain messages or objects
// with message, entity and an optional severity override.
func toViolation(p *Policy, entry interface{}) engine.PolicyViolation {
	v := engine.PolicyViolation{Policy: p.Name, Severity: string(p.Severity)}

	obj, ok := entry.(map[string]interface{})
	if !ok {
		if msg, isString := entry.(string); isString {
			v.Message = msg
		} else {
			v.Message = fmt.Sprint(entry)
		}
		return v
	}
	v.Message, _ = obj["message"].(string)
	v.Entity, _ = obj["entity"].(string)
	if sev, ok := obj["severity"].(string); ok {
		v.Severity = sev
	}
	return v
}

// LoadPolicies loads policy files and directories. Loaded policies replace
// earlier ones with the same name.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader(e.logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.AddPolicies(ctx, policies)
}

// AddPolicies compiles and registers policies. Nothing is registered when
// any of them fails to compile.
func (e *Engine) AddPolicies(ctx context.Context, policies []Policy) error {
	added, err := e.compileAll(ctx, policies)
	if err != nil {
		return err
	}

	e.mu.Lock()
	next := make(map[string]*compiledPolicy, len(e.compiled)+len(added))
	for name, cp := range e.compiled {
		next[name] = cp
	}
	for name, cp := range added {
		next[name] = cp
	}
	e.compiled = next
	e.mu.Unlock()

	e.logger.Info().Strs("policies", sortedKeys(added)).Msg("Policies added")
	return nil
}

func (e *Engine) compileAll(ctx context.Context, policies []Policy) (map[string]*compiledPolicy, error) {
	out := make(map[string]*compiledPolicy, len(policies))
	for i := range policies {
		p := policies[i]
		cp, err := e.compile(ctx, &p)
		if err != nil {
			e.logger.Error().Err(err).Str("policy", p.Name).Msg("Failed to compile policy")
			return nil, fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
		out[p.Name] = cp
	}
	return out, nil
}

// compile prepares the policy's <package>.deny query.
func (e *Engine) compile(ctx context.Context, p *Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModule(p.Name+".rego", p.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	query := module.Package.Path.String() + ".deny"

	prepared, err := rego.New(
		rego.ParsedModule(module),
		rego.Store(e.store),
		rego.Query(query),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare %s: %w", query, err)
	}
	return &compiledPolicy{policy: p, query: prepared}, nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cp, ok := e.compiled[name]
	if !ok {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	return cp.policy, nil
}

// ListPolicies returns copies of every loaded policy sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Policy, 0, len(e.compiled))
	for _, name := range sortedKeys(e.compiled) {
		out = append(out, *e.compiled[name].policy)
	}
	return out
}

func sortedKeys(set map[string]*compiledPolicy) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReloadPolicies resets the engine to the built-in policies plus the given
// ones. The previous set stays in place when anything fails to compile.
func (e *Engine) ReloadPolicies(ctx context.Context, policies []Policy) error {
	next, err := e.compileAll(ctx, GetBuiltinPolicies())
	if err != nil {
		return err
	}
	added, err := e.compileAll(ctx, policies)
	if err != nil {
		return err
	}
	for name, cp := range added {
		next[name] = cp
	}

	e.mu.Lock()
	e.compiled = next
	e.mu.Unlock()

	e.logger.Info().Int("count", len(next)).Msg("Policies reloaded")
	return nil
}

// EnablePolicy turns a loaded policy back on.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy keeps a policy loaded but skips it during evaluation.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp, ok := e.compiled[name]
	if !ok {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}

// WatchPolicies reloads the built-in policies plus those under paths
// whenever a policy file changes, until ctx is done.
func (e *Engine) WatchPolicies(ctx context.Context, paths []string) (*Loader, error) {
	loader := NewLoader(e.logger)
	err := loader.Watch(ctx, paths, func(policies []Policy) error {
		return e.ReloadPolicies(ctx, policies)
	})
	if err != nil {
		return nil, err
	}
	return loader, nil
}
