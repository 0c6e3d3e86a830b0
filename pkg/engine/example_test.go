package engine_test

import (
	"context"
	"fmt"

	"github.com/openfroyo/sitemodel/pkg/engine"
	"github.com/openfroyo/sitemodel/pkg/model"
	"github.com/openfroyo/sitemodel/pkg/stores"
)

// Example_apply applies the same declaration twice. The second apply finds
// everything up to date and writes nothing.
func Example_apply() {
	ctx := context.Background()

	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		panic(err)
	}
	if err := store.Init(ctx); err != nil {
		panic(err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		panic(err)
	}

	main := &model.Box{ID: "main", DefaultContentArea: true}
	t1 := &model.Template{ID: "t1", Layout: &model.Layout{ID: "l1", Boxes: []*model.Box{main}}}
	banner := &model.Text{ContentBase: model.ContentBase{ID: "banner"}, HTML: "<p>Welcome</p>"}
	home := &model.Page{
		ID:       "home",
		Template: t1,
		Content:  []model.Placement{{Slot: "main", Content: []model.Content{banner}}},
	}
	site := &model.Site{
		ID:        "s1",
		Hostnames: []model.Hostname{{Address: "a.example.com", WelcomePage: home}},
		Pages:     []*model.Page{home},
	}

	r := engine.NewReconciler(store, engine.WithActor(engine.StaticActor("deploy")))

	first, err := r.Apply(ctx, site)
	if err != nil {
		panic(err)
	}
	fmt.Printf("first: created=%d revisions=%d\n", first.Summary.Created, first.Summary.Revisions)

	second, err := r.Apply(ctx, site)
	if err != nil {
		panic(err)
	}
	fmt.Printf("second: changes=%d\n", second.Summary.Total())

	// Output:
	// first: created=8 revisions=1
	// second: changes=0
}
