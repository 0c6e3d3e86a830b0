package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/openfroyo/sitemodel/pkg/stores"
)

func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path:            ":memory:",
		MaxOpenConns:    1,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	_, err = store.GetSiteByName(ctx, "docs")
	fmt.Println(stores.IsNotFound(err))
	// Output: true
}

// ExampleSQLiteStore_CreateRevision demonstrates appending revisions to a
// content element.
func ExampleSQLiteStore_CreateRevision() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	site := &stores.Site{Name: "docs", PrimaryLocale: "en", DefaultTimezone: "UTC", CreatedBy: "example"}
	if err := store.CreateSite(ctx, site); err != nil {
		log.Fatal(err)
	}

	banner := &stores.ContentElement{SiteID: site.ID, Name: "banner", Kind: "text", LastModifiedBy: "example"}
	if err := store.CreateContent(ctx, banner); err != nil {
		log.Fatal(err)
	}

	for _, data := range []string{`{"html":"<h1>Hello</h1>"}`, `{"html":"<h1>Welcome</h1>"}`} {
		_, err := store.CreateRevision(ctx, &stores.Revision{
			ContentID: banner.ID,
			Locale:    "en",
			Data:      data,
			State:     site.FinalState(),
			Author:    "example",
		})
		if err != nil {
			log.Fatal(err)
		}
	}

	revs, _ := store.ListRevisions(ctx, banner.ID)
	for _, rev := range revs {
		fmt.Printf("revision %d: %s (%s)\n", rev.Number, rev.Data, rev.State)
	}
	// Output:
	// revision 1: {"html":"<h1>Hello</h1>"} (published)
	// revision 2: {"html":"<h1>Welcome</h1>"} (published)
}

// ExampleSQLiteStore_InTx demonstrates grouping writes in one transaction.
func ExampleSQLiteStore_InTx() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	err := store.InTx(ctx, func(tx stores.Store) error {
		site := &stores.Site{Name: "shop", PrimaryLocale: "en", DefaultTimezone: "UTC"}
		if err := tx.CreateSite(ctx, site); err != nil {
			return err
		}
		return tx.CreateHostname(ctx, &stores.Hostname{SiteID: site.ID, Address: "shop.example.com", IsDefault: true})
	})
	if err != nil {
		log.Fatal(err)
	}

	host, _ := store.GetHostname(ctx, "shop.example.com")
	fmt.Println(host.Address, host.IsDefault)
	// Output: shop.example.com true
}
