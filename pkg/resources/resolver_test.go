package resources

import (
	"errors"
	"testing"
	"testing/fstest"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"css/site.css":          {Data: []byte("body{}")},
		"themes/dark/site.css":  {Data: []byte("body{color:#fff}")},
		"js/app.js":             {Data: []byte("init()")},
		"lib/menu.star":         {Data: []byte(`title = "Menu"`)},
		"lib/submenu.star":      {Data: []byte(`title = "Sub"`)},
		"vendor/lib/extra.star": {Data: []byte(`x = 1`)},
	}
}

func TestFSResolver_Resolve(t *testing.T) {
	r := NewFSResolver(testFS())

	tests := []struct {
		fragment string
		want     []string
	}{
		{"js/app.js", []string{"js/app.js"}},
		{"/js/app.js", []string{"js/app.js"}},
		{"app.js", []string{"js/app.js"}},
		{"site.css", []string{"css/site.css", "themes/dark/site.css"}},
		{"dark/site.css", []string{"themes/dark/site.css"}},
		{"menu.star", []string{"lib/menu.star"}},
		{"enu.star", nil},
		{"missing.css", nil},
	}

	for _, tt := range tests {
		t.Run(tt.fragment, func(t *testing.T) {
			got, err := r.Resolve(tt.fragment)
			if err != nil {
				t.Fatalf("Resolve(%q) returned error: %v", tt.fragment, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Resolve(%q) = %v, want %v", tt.fragment, got, tt.want)
			}
			for i := range got {
				if got[i].Path != tt.want[i] {
					t.Errorf("Resolve(%q)[%d] = %s, want %s", tt.fragment, i, got[i].Path, tt.want[i])
				}
			}
		})
	}
}

func TestFSResolver_EmptyFragment(t *testing.T) {
	r := NewFSResolver(testFS())
	if _, err := r.Resolve("  "); err == nil {
		t.Error("expected error for empty fragment")
	}
}

func TestResolveOne(t *testing.T) {
	r := NewFSResolver(testFS())

	res, err := ResolveOne(r, "lib/menu.star")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := r.ReadFile(res)
	if err != nil {
		t.Fatalf("failed to read resource: %v", err)
	}
	if string(data) != `title = "Menu"` {
		t.Errorf("unexpected content %q", data)
	}

	if _, err := ResolveOne(r, "site.css"); !errors.Is(err, ErrAmbiguous) {
		t.Errorf("expected ErrAmbiguous, got %v", err)
	}
	if _, err := ResolveOne(r, "nothing.js"); !errors.Is(err, ErrNoMatch) {
		t.Errorf("expected ErrNoMatch, got %v", err)
	}
}
