package policy

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/sitemodel/pkg/engine"
	"github.com/openfroyo/sitemodel/pkg/model"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(zerolog.New(nil).Level(zerolog.Disabled))
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return e
}

// cleanSite returns a site that passes every built-in policy.
func cleanSite() *model.Site {
	layout := &model.Layout{ID: "main", Boxes: []*model.Box{{ID: "body", DefaultContentArea: true}}}
	tmpl := &model.Template{ID: "default", Layout: layout}
	login := &model.Page{ID: "login", Path: "/login", Template: tmpl}
	home := &model.Page{
		ID:       "home",
		Path:     "/",
		Template: tmpl,
		Content: []model.Placement{{
			Slot:    "body",
			Content: []model.Content{&model.Text{ContentBase: model.ContentBase{ID: "intro", HTMLID: "intro"}, HTML: "<p>hi</p>"}},
		}},
	}
	members := &model.Page{
		ID:                 "members",
		Path:               "/members/*",
		Template:           tmpl,
		Permission:         "member",
		AuthenticationPage: login,
	}

	return &model.Site{
		ID:        "s1",
		Hostnames: []model.Hostname{{Address: "www.example.com", WelcomePage: home}},
		Pages:     []*model.Page{home, login, members},
	}
}

func violationsOf(result *engine.PolicyResult, policy string) []engine.PolicyViolation {
	var out []engine.PolicyViolation
	for _, v := range result.Violations {
		if v.Policy == policy {
			out = append(out, v)
		}
	}
	return out
}

func TestNewEngine(t *testing.T) {
	e := newTestEngine(t)

	policies := e.ListPolicies()
	if len(policies) != len(GetBuiltinPolicies()) {
		t.Errorf("Expected %d built-in policies, got %d", len(GetBuiltinPolicies()), len(policies))
	}
	for i := 1; i < len(policies); i++ {
		if policies[i-1].Name > policies[i].Name {
			t.Errorf("Policies not sorted: %s before %s", policies[i-1].Name, policies[i].Name)
		}
	}
}

func TestEvaluateSite_Clean(t *testing.T) {
	e := newTestEngine(t)

	result, err := e.EvaluateSite(context.Background(), cleanSite())
	if err != nil {
		t.Fatalf("Failed to evaluate: %v", err)
	}
	if !result.Allowed {
		t.Errorf("Expected clean site to be allowed, got %+v", result.Violations)
	}
	if len(result.Violations) != 0 {
		t.Errorf("Expected no violations, got %+v", result.Violations)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("Expected no warnings, got %v", result.Warnings)
	}
}

func TestEvaluateSite_NilSite(t *testing.T) {
	e := newTestEngine(t)

	if _, err := e.EvaluateSite(context.Background(), nil); err == nil {
		t.Error("Expected error for nil site")
	}
	if _, err := e.Evaluate(context.Background(), &PolicyInput{}); err == nil {
		t.Error("Expected error for input without site")
	}
}

func TestEvaluateSite_BuiltinViolations(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(s *model.Site)
		policy   string
		entity   string
		severity Severity
		allowed  bool
	}{
		{
			name: "uppercase hostname",
			mutate: func(s *model.Site) {
				s.Hostnames[0].Address = "WWW.Example.com"
			},
			policy:   "hostname-format",
			entity:   "hostname:WWW.Example.com",
			severity: SeverityError,
		},
		{
			name: "missing welcome page",
			mutate: func(s *model.Site) {
				s.Hostnames = append(s.Hostnames, model.Hostname{Address: "static.example.com"})
			},
			policy:   "welcome-page",
			entity:   "hostname:static.example.com",
			severity: SeverityWarning,
			allowed:  true,
		},
		{
			name: "permission without auth page",
			mutate: func(s *model.Site) {
				s.Pages[2].AuthenticationPage = nil
			},
			policy:   "protected-pages",
			entity:   "page:members",
			severity: SeverityError,
		},
		{
			name: "page is its own auth page",
			mutate: func(s *model.Site) {
				s.Pages[2].AuthenticationPage = s.Pages[2]
			},
			policy:   "protected-pages",
			entity:   "page:members",
			severity: SeverityError,
		},
		{
			name: "pages share a path",
			mutate: func(s *model.Site) {
				s.Pages[1].Path = "members"
			},
			policy:   "unique-paths",
			entity:   "page:members",
			severity: SeverityError,
		},
		{
			name: "content claims a page path",
			mutate: func(s *model.Site) {
				s.Content = []model.Content{&model.Text{ContentBase: model.ContentBase{ID: "login-box", Path: "/login"}}}
			},
			policy:   "unique-paths",
			entity:   "content:login-box",
			severity: SeverityError,
		},
		{
			name: "duplicate html id",
			mutate: func(s *model.Site) {
				s.Content = []model.Content{&model.Text{ContentBase: model.ContentBase{ID: "other", HTMLID: "intro"}}}
			},
			policy:   "html-ids",
			entity:   "content:other",
			severity: SeverityWarning,
			allowed:  true,
		},
		{
			name: "declared and removed content",
			mutate: func(s *model.Site) {
				s.ContentToRemove = []model.Content{&model.Text{ContentBase: model.ContentBase{ID: "intro"}}}
			},
			policy:   "removal-conflicts",
			entity:   "content:intro",
			severity: SeverityWarning,
			allowed:  true,
		},
		{
			name: "declared and removed page",
			mutate: func(s *model.Site) {
				s.PagesToRemove = []*model.Page{{ID: "login"}}
			},
			policy:   "removal-conflicts",
			entity:   "page:login",
			severity: SeverityWarning,
			allowed:  true,
		},
	}

	e := newTestEngine(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			site := cleanSite()
			tt.mutate(site)

			result, err := e.EvaluateSite(context.Background(), site)
			if err != nil {
				t.Fatalf("Failed to evaluate: %v", err)
			}

			found := violationsOf(result, tt.policy)
			if len(found) != 1 {
				t.Fatalf("Expected 1 %s violation, got %+v", tt.policy, result.Violations)
			}
			if found[0].Entity != tt.entity {
				t.Errorf("Expected entity %s, got %s", tt.entity, found[0].Entity)
			}
			if found[0].Severity != string(tt.severity) {
				t.Errorf("Expected severity %s, got %s", tt.severity, found[0].Severity)
			}
			if found[0].Message == "" {
				t.Error("Expected a violation message")
			}
			if result.Allowed != tt.allowed {
				t.Errorf("Expected allowed=%v, got %v", tt.allowed, result.Allowed)
			}
		})
	}
}

func TestEvaluateSite_PlaceholderHostnameSkipped(t *testing.T) {
	e := newTestEngine(t)
	site := cleanSite()
	site.Hostnames[0].Address = "${SITE_HOST}"

	result, err := e.EvaluateSite(context.Background(), site)
	if err != nil {
		t.Fatalf("Failed to evaluate: %v", err)
	}
	if v := violationsOf(result, "hostname-format"); len(v) != 0 {
		t.Errorf("Expected placeholder hostname to be skipped, got %+v", v)
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	e := newTestEngine(t)
	site := cleanSite()
	site.Hostnames[0].Address = "Bad_Host"

	if err := e.DisablePolicy("hostname-format"); err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}
	result, err := e.EvaluateSite(context.Background(), site)
	if err != nil {
		t.Fatalf("Failed to evaluate: %v", err)
	}
	if !result.Allowed {
		t.Errorf("Expected disabled policy not to block, got %+v", result.Violations)
	}

	if err := e.EnablePolicy("hostname-format"); err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}
	result, err = e.EvaluateSite(context.Background(), site)
	if err != nil {
		t.Fatalf("Failed to evaluate: %v", err)
	}
	if result.Allowed {
		t.Error("Expected enabled policy to block")
	}

	if err := e.EnablePolicy("nonexistent"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}

func TestAddPolicies_Custom(t *testing.T) {
	e := newTestEngine(t)

	err := e.AddPolicies(context.Background(), []Policy{{
		Name:     "no-staging",
		Severity: SeverityCritical,
		Enabled:  true,
		Rego: `package custom.staging

import rego.v1

deny contains msg if {
	some h in input.site.hostnames
	startswith(h.address, "staging.")
	msg := sprintf("staging hostname %s in %s", [h.address, input.context.operation])
}
`,
	}})
	if err != nil {
		t.Fatalf("Failed to add policy: %v", err)
	}

	site := cleanSite()
	site.Hostnames[0].Address = "staging.example.com"

	result, err := e.EvaluateSite(context.Background(), site)
	if err != nil {
		t.Fatalf("Failed to evaluate: %v", err)
	}
	found := violationsOf(result, "no-staging")
	if len(found) != 1 {
		t.Fatalf("Expected 1 violation, got %+v", result.Violations)
	}
	if found[0].Message != "staging hostname staging.example.com in apply" {
		t.Errorf("Unexpected message %q", found[0].Message)
	}
	if found[0].Severity != string(SeverityCritical) {
		t.Errorf("Expected policy severity to apply, got %s", found[0].Severity)
	}
	if result.Allowed {
		t.Error("Expected critical violation to block")
	}
}

func TestAddPolicies_InvalidRego(t *testing.T) {
	e := newTestEngine(t)

	err := e.AddPolicies(context.Background(), []Policy{
		{Name: "good", Rego: "package good\n\nimport rego.v1\n\ndeny contains \"x\" if false\n", Enabled: true},
		{Name: "broken", Rego: "package broken\n\ndeny contains if {", Enabled: true},
	})
	if err == nil {
		t.Fatal("Expected error for invalid Rego")
	}
	if _, err := e.GetPolicy("good"); err == nil {
		t.Error("Expected no policy to be registered after a compile failure")
	}
}

func TestSetContext(t *testing.T) {
	e := newTestEngine(t)
	e.SetContext(PolicyContext{User: "ci", Environment: "production", Operation: "plan"})

	err := e.AddPolicies(context.Background(), []Policy{{
		Name:     "prod-only",
		Severity: SeverityWarning,
		Enabled:  true,
		Rego: `package custom.prod

import rego.v1

deny contains msg if {
	input.context.environment == "production"
	input.context.operation == "plan"
	msg := input.context.user
}
`,
	}})
	if err != nil {
		t.Fatalf("Failed to add policy: %v", err)
	}

	result, err := e.EvaluateSite(context.Background(), cleanSite())
	if err != nil {
		t.Fatalf("Failed to evaluate: %v", err)
	}
	found := violationsOf(result, "prod-only")
	if len(found) != 1 || found[0].Message != "ci" {
		t.Errorf("Expected context to reach the policy, got %+v", found)
	}
	if !result.Allowed {
		t.Error("Expected warning severity not to block")
	}
}

func TestLoadPoliciesAndReload(t *testing.T) {
	e := newTestEngine(t)

	dir := t.TempDir()
	writePolicyFile(t, filepath.Join(dir, "page-paths.rego"), pagePathRego)

	if err := e.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}
	if _, err := e.GetPolicy("page-paths"); err != nil {
		t.Fatalf("Expected loaded policy: %v", err)
	}

	site := cleanSite()
	site.Pages[0].Path = ""
	result, err := e.EvaluateSite(context.Background(), site)
	if err != nil {
		t.Fatalf("Failed to evaluate: %v", err)
	}
	if len(violationsOf(result, "page-paths")) != 1 {
		t.Errorf("Expected page-paths violation, got %+v", result.Violations)
	}

	if err := e.ReloadPolicies(context.Background(), nil); err != nil {
		t.Fatalf("Failed to reload: %v", err)
	}
	if _, err := e.GetPolicy("page-paths"); err == nil {
		t.Error("Expected reload to drop loaded policies")
	}
	if len(e.ListPolicies()) != len(GetBuiltinPolicies()) {
		t.Errorf("Expected only built-in policies after reload")
	}
}

func TestToViolation(t *testing.T) {
	p := &Policy{Name: "p", Severity: SeverityWarning}

	v := toViolation(p, "plain message")
	if v.Message != "plain message" || v.Severity != "warning" || v.Policy != "p" {
		t.Errorf("Unexpected violation %+v", v)
	}

	v = toViolation(p, map[string]interface{}{"message": "m", "severity": "error", "entity": "page:x"})
	if v.Message != "m" || v.Severity != "error" || v.Entity != "page:x" {
		t.Errorf("Unexpected violation %+v", v)
	}

	v = toViolation(p, 42)
	if !strings.Contains(v.Message, "42") {
		t.Errorf("Expected fallback message, got %q", v.Message)
	}
}
