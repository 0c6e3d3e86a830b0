// Package engine reconciles a declared site against the site store.
//
// # Overview
//
// A Reconciler takes one declared model.Site and brings the store in line with
// it, writing only what differs. Re-applying the same declaration writes
// nothing. Every apply runs inside one store transaction and is split into
// phases:
//
//  1. Preflight - resolve hostname placeholders and detect hostname conflicts
//  2. Site - find or create the site by name
//  3. Removal - trash content and pages declared for removal
//  4. Hostnames - bind hostnames; the first one becomes the default
//  5. Libraries - register shared library files
//  6. Pass 1 - create the layout, box, template and page skeletons and paths
//  7. Pass 2 - fill slots with content, order them, wire permissions and
//     authentication pages
//  8. Site content - instantiate site-level content
//
// Pass 1 runs over every declared page before any slot is populated, so that a
// page may reference a page declared after it and a template shared by several
// pages is populated once.
//
// # Content and Revisions
//
// Content is matched by name. New content is created with a first revision.
// Existing content is compared with its current revision; when the declared
// data differs a new immutable revision is written, and earlier revisions stay
// retrievable. Delegates are instantiated and saved before their parents.
//
// # Paths
//
// Pages and content with a declared path own one path mapping each. When the
// declared path of an owner changes, its mapping is rewritten in place rather
// than replaced.
//
// # Errors
//
// Failures are returned as *ReconcileError and classified by ErrorKind:
//
//   - Identity conflict: a hostname or path already bound elsewhere
//   - Ambiguous match: a resource or library path matching several candidates
//   - Missing reference: an undeclared slot, authentication page or library
//   - Consistency violation: a delegate cycle or a revision saved twice
//   - Invalid declaration: input rejected before anything is written
//   - Store failure: the store itself failed
//
// Every error aborts the apply and rolls back the transaction.
//
// # Example Usage
//
//	store, _ := stores.NewSQLiteStore(stores.Config{Path: "site.db"})
//	_ = store.Init(ctx)
//	_ = store.Migrate(ctx)
//
//	r := engine.NewReconciler(store, engine.WithActor(engine.StaticActor("deploy")))
//	result, err := r.Apply(ctx, site)
//	if err != nil {
//	    return err
//	}
//	for _, c := range result.Changes {
//	    fmt.Println(c)
//	}
package engine
