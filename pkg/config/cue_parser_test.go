package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfroyo/sitemodel/pkg/model"
)

const exampleCUE = `
layouts: [{
	id: "l1"
	boxes: [{id: "main", default_content_area: true}, {id: "side"}]
}]

templates: [{
	id:     "t1"
	layout: "l1"
	content: [{slot: "side", content: ["nav"]}]
}]

content: [
	{id: "banner", type: "text", html: "<p>Welcome</p>", path: "banner"},
	{id: "nav", type: "markdown", markdown: "* [Home](/)"},
	{id: "group", type: "container", children: ["banner"]},
]

pages: [
	{id: "home", template: "t1", content: [{slot: "main", content: ["banner", "group"]}]},
	{id: "login", template: "t1"},
	{id: "members", template: "t1", permission: "Members Only", auth_page: "login"},
]

sites: [{
	id: "s1"
	hostnames: [{address: "a.example.com", welcome_page: "home"}]
	pages: ["home", "login", "members"]
	remove_content: ["old-promo"]
}]
`

func TestCUEParser_ParseInline(t *testing.T) {
	parser := NewCUEParser()
	ctx := context.Background()

	tests := []struct {
		name      string
		content   string
		wantErr   string
		checkFunc func(*testing.T, *ParsedConfig)
	}{
		{
			name:    "valid declaration",
			content: exampleCUE,
			checkFunc: func(t *testing.T, pc *ParsedConfig) {
				if len(pc.Sites) != 1 {
					t.Fatalf("expected 1 site, got %d", len(pc.Sites))
				}
				site := pc.Sites[0]
				if len(site.Pages) != 3 {
					t.Fatalf("expected 3 pages, got %d", len(site.Pages))
				}
				home, login, members := site.Pages[0], site.Pages[1], site.Pages[2]
				if site.Hostnames[0].WelcomePage != home {
					t.Error("welcome page should be the declared home page")
				}
				if home.Template != members.Template {
					t.Error("pages naming the same template should share it")
				}
				if members.AuthenticationPage != login {
					t.Error("auth page should link to login")
				}
				group, ok := home.Content[0].Content[1].(*model.Container)
				if !ok {
					t.Fatalf("expected container, got %T", home.Content[0].Content[1])
				}
				if group.Children[0] != home.Content[0].Content[0] {
					t.Error("shared content should be linked once")
				}
				if len(site.ContentToRemove) != 1 || site.ContentToRemove[0].Base().ID != "old-promo" {
					t.Errorf("unexpected removals %v", site.ContentToRemove)
				}
			},
		},
		{
			name: "invalid CUE syntax",
			content: `
sites: [{
	id: "s1"
	invalid syntax here
}]
`,
			wantErr: "",
		},
		{
			name: "unknown content type",
			content: `
content: [{id: "clip", type: "video"}]
sites: [{id: "s1", hostnames: [{address: "a.example.com"}], content: ["clip"]}]
`,
		},
		{
			name: "unknown field",
			content: `
sites: [{id: "s1", hostnames: [{address: "a.example.com"}], colour: "blue"}]
`,
		},
		{
			name: "unknown reference",
			content: `
sites: [{id: "s1", hostnames: [{address: "a.example.com", welcome_page: "nowhere"}]}]
`,
			wantErr: "unknown page nowhere",
		},
		{
			name:    "no sites",
			content: `layouts: [{id: "l1", boxes: []}]`,
		},
		{
			name: "application function without component",
			content: `
content: [{id: "blog", type: "application_function", function: "list"}]
sites: [{id: "s1", hostnames: [{address: "a.example.com"}], content: ["blog"]}]
`,
			wantErr: "Component",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pc, err := parser.ParseInline(ctx, tt.content)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if tt.checkFunc != nil {
				if pc.HasErrors() {
					t.Fatalf("unexpected validation errors: %v", pc.Errors)
				}
				tt.checkFunc(t, pc)
				return
			}

			if !pc.HasErrors() {
				t.Fatal("expected validation errors, got none")
			}
			if pc.Sites != nil {
				t.Error("sites must not be linked when there are errors")
			}
			if tt.wantErr != "" && !strings.Contains(joinValidationErrors(pc.Errors).Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, pc.Errors)
			}
		})
	}
}

func TestCUEParser_ParseFiles(t *testing.T) {
	parser := NewCUEParser()
	ctx := context.Background()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "structure.cue"), `
package site

layouts: [{id: "l1", boxes: [{id: "main"}]}]
templates: [{id: "t1", layout: "l1", css: ["theme.css"]}]
`)
	writeFile(t, filepath.Join(dir, "site.yaml"), `
content:
  - id: hello
    type: script
    source: |
      message = "hi " + name
    input:
      name: world
  - id: card
    type: composite
    attributes:
      tone: warm
    delegates:
      - purpose: title
        content: hello
pages:
  - id: home
    path: /start
    template: t1
    content:
      - slot: main
        content: [card]
sites:
  - id: s1
    primary_locale: de
    hostnames:
      - address: ${SITE_HOST:localhost}
        welcome_page: home
    pages: [home]
`)
	writeFile(t, filepath.Join(dir, "README.md"), "ignored")

	pc, err := parser.Parse(ctx, []string{dir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pc.HasErrors() {
		t.Fatalf("unexpected validation errors: %v", pc.Errors)
	}
	if len(pc.SourceFiles) != 2 {
		t.Errorf("expected 2 source files, got %v", pc.SourceFiles)
	}

	site := pc.Sites[0]
	if site.Locale() != "de" {
		t.Errorf("expected locale de, got %s", site.Locale())
	}
	home := site.Pages[0]
	if home.Path != "/start" || home.Template.Resources.CSSPaths[0] != "theme.css" {
		t.Errorf("unexpected page %+v", home)
	}
	card, ok := home.Content[0].Content[0].(*model.Composite)
	if !ok {
		t.Fatalf("expected composite, got %T", home.Content[0].Content[0])
	}
	if card.Attributes["tone"] != "warm" || card.Delegates()[0].Purpose != "title" {
		t.Errorf("unexpected composite %+v", card)
	}
	script, ok := card.Children[0].Content.(*model.Script)
	if !ok {
		t.Fatalf("expected script, got %T", card.Children[0].Content)
	}
	if script.Input["name"] != "world" {
		t.Errorf("unexpected script input %v", script.Input)
	}
	if site.Hostnames[0].Address != "${SITE_HOST:localhost}" {
		t.Errorf("placeholders are resolved at apply time, got %s", site.Hostnames[0].Address)
	}
}

func TestCUEParser_DuplicateAcrossFiles(t *testing.T) {
	parser := NewCUEParser()
	dir := t.TempDir()

	a := filepath.Join(dir, "a.json")
	b := filepath.Join(dir, "b.yaml")
	writeFile(t, a, `{"layouts": [{"id": "l1", "boxes": []}], "sites": [{"id": "s1", "hostnames": []}]}`)
	writeFile(t, b, "layouts:\n  - id: l1\n    boxes: []\n")

	_, err := parser.Load(context.Background(), []string{a, b})
	if err == nil || !strings.Contains(err.Error(), "layouts l1 declared more than once") {
		t.Fatalf("expected duplicate layout error, got %v", err)
	}
}

func TestCUEParser_Load(t *testing.T) {
	parser := NewCUEParser()
	ctx := context.Background()

	file := filepath.Join(t.TempDir(), "site.cue")
	writeFile(t, file, exampleCUE)

	sites, err := parser.Load(ctx, []string{file})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sites) != 1 || sites[0].ID != "s1" {
		t.Fatalf("unexpected sites %v", sites)
	}

	if _, err := parser.Load(ctx, []string{filepath.Join(t.TempDir(), "missing.cue")}); err == nil {
		t.Error("expected error for missing source")
	}
	if _, err := parser.Load(ctx, nil); err == nil {
		t.Error("expected error for no sources")
	}

	empty := t.TempDir()
	if _, err := parser.Load(ctx, []string{empty}); err == nil {
		t.Error("expected error for a directory without declarations")
	}
}

func TestCUEParser_ExportJSON(t *testing.T) {
	parser := NewCUEParser()

	pc, err := parser.ParseInline(context.Background(), exampleCUE)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := parser.ExportJSON(pc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(data), `"welcome_page": "home"`) {
		t.Errorf("unexpected export %s", data)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}
