package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in       string
		want     string
		wildcard bool
	}{
		{"home", "home", false},
		{"/home/", "home", false},
		{"//docs///guide//", "docs/guide", false},
		{"blog*", "blog", true},
		{"/shop/*", "shop", true},
		{"a*b", "a/b", false},
		{"", "", false},
		{"///", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanPath(tt.in))
			assert.Equal(t, tt.wildcard, IsWildcard(tt.in))
		})
	}
}

func exampleSite() *Site {
	main := &Box{ID: "main", DefaultContentArea: true}
	l1 := &Layout{ID: "l1", Boxes: []*Box{main}}
	t1 := &Template{ID: "t1", Layout: l1}
	banner := &Text{ContentBase: ContentBase{ID: "banner", Path: "banner"}, HTML: "<p>hi</p>"}
	home := &Page{
		ID:       "home",
		Path:     "home",
		Template: t1,
		Content:  []Placement{{Slot: "main", Content: []Content{banner}}},
	}
	return &Site{
		ID:        "s1",
		Hostnames: []Hostname{{Address: "a.example.com", WelcomePage: home}},
		Pages:     []*Page{home},
	}
}

func TestValidate_ExampleSite(t *testing.T) {
	require.NoError(t, Validate(exampleSite()))
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Site)
		want   string
	}{
		{
			name:   "missing site id",
			mutate: func(s *Site) { s.ID = "" },
			want:   "Site.ID",
		},
		{
			name: "page without layout",
			mutate: func(s *Site) {
				s.Pages = append(s.Pages, &Page{ID: "orphan"})
			},
			want: "page orphan has no layout",
		},
		{
			name: "duplicate box",
			mutate: func(s *Site) {
				l := s.Pages[0].Template.Layout
				l.Boxes = append(l.Boxes, &Box{ID: "main"})
			},
			want: "duplicate box main",
		},
		{
			name: "content declared with two kinds",
			mutate: func(s *Site) {
				s.Content = append(s.Content, &Markdown{ContentBase: ContentBase{ID: "banner"}})
			},
			want: "content banner declared as both",
		},
		{
			name: "two content declarations with one id",
			mutate: func(s *Site) {
				other := &Text{ContentBase: ContentBase{ID: "banner"}, HTML: "<p>OTHER</p>"}
				s.Pages = append(s.Pages, &Page{
					ID:       "about",
					Template: s.Pages[0].Template,
					Content:  []Placement{{Slot: "main", Content: []Content{other}}},
				})
			},
			want: "content banner declared more than once",
		},
		{
			name:   "removal without id",
			mutate: func(s *Site) { s.ContentToRemove = []Content{&Text{}} },
			want:   "content to remove has no id",
		},
		{
			name: "two pages with one id",
			mutate: func(s *Site) {
				s.Pages = append(s.Pages, &Page{ID: "home", Template: s.Pages[0].Template})
			},
			want: "page home declared more than once",
		},
		{
			name: "bad locale",
			mutate: func(s *Site) { s.PrimaryLocale = "not a locale" },
			want: "PrimaryLocale",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			site := exampleSite()
			tt.mutate(site)
			err := Validate(site)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_CyclicContainerIsNotAValidationError(t *testing.T) {
	site := exampleSite()
	outer := &Container{ContentBase: ContentBase{ID: "outer"}}
	inner := &Container{ContentBase: ContentBase{ID: "inner"}, Children: []Content{outer}}
	outer.Children = []Content{inner}
	site.Content = []Content{outer}

	assert.NoError(t, Validate(site))
}

func TestLayoutWalk(t *testing.T) {
	l := &Layout{ID: "l", Boxes: []*Box{
		{ID: "header"},
		{ID: "body", Children: []*Box{{ID: "left"}, {ID: "right"}}},
	}}

	var visited []string
	var parents []string
	require.NoError(t, l.Walk(func(parent, b *Box, pos int) error {
		visited = append(visited, b.ID)
		if parent != nil {
			parents = append(parents, parent.ID)
		}
		return nil
	}))

	assert.Equal(t, []string{"header", "body", "left", "right"}, visited)
	assert.Equal(t, []string{"body", "body"}, parents)
}
