package engine

import (
	"context"
	"time"

	"github.com/openfroyo/sitemodel/pkg/model"
)

// ActorProvider supplies the identity and clock used to stamp created and
// modified entities.
type ActorProvider interface {
	Actor() string
	Now() time.Time
}

// StaticActor is an ActorProvider with a fixed identity and the wall clock.
type StaticActor string

// Actor returns the identity.
func (a StaticActor) Actor() string { return string(a) }

// Now returns the current UTC time.
func (a StaticActor) Now() time.Time { return time.Now().UTC() }

// PlaceholderResolver expands placeholders such as ${NAME} in declared
// hostname addresses.
type PlaceholderResolver interface {
	Resolve(value string) (string, error)
}

// PlaceholderResolverFunc adapts a function to PlaceholderResolver.
type PlaceholderResolverFunc func(value string) (string, error)

// Resolve calls f(value).
func (f PlaceholderResolverFunc) Resolve(value string) (string, error) { return f(value) }

// ScriptEvaluator executes Starlark scripts for Script content.
type ScriptEvaluator interface {
	// EvaluateStarlark runs script with input bound as globals and returns the
	// exported globals.
	EvaluateStarlark(ctx context.Context, script string, input map[string]interface{}) (map[string]interface{}, error)
}

// PolicyEngine checks a declared site before it is applied.
type PolicyEngine interface {
	// EvaluateSite evaluates every loaded policy against the declared site.
	EvaluateSite(ctx context.Context, site *model.Site) (*PolicyResult, error)
}

// PolicyResult is the outcome of checking one site. Allowed is false when
// any violation has severity error or critical. Policies that could not be
// evaluated are listed in Warnings.
type PolicyResult struct {
	Allowed     bool              `json:"allowed"`
	Violations  []PolicyViolation `json:"violations,omitempty"`
	Warnings    []string          `json:"warnings,omitempty"`
	EvaluatedAt time.Time         `json:"evaluated_at"`
}

// PolicyViolation is one deny entry. Entity is "kind:name" when the policy
// names the offending declaration.
type PolicyViolation struct {
	Policy   string `json:"policy"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Entity   string `json:"entity,omitempty"`
}
