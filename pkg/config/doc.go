// Package config loads declared sites from CUE, YAML and JSON files and
// evaluates the Starlark scripts behind Script content.
//
// # Components
//
// CUEParser: reads sources, checks every source against the built-in
// #Document schema, decodes the declarations and links them into
// []*model.Site. It also implements engine.ScriptEvaluator.
//
// SchemaRegistry: named CUE definitions used for validation. The built-in
// set covers documents, sites, pages, templates, layouts, content and
// libraries; callers may register their own.
//
// StarlarkEvaluator: runs scripts with a timeout. Input values become
// predeclared globals; exported top-level globals are returned.
//
// EnvResolver: expands ${NAME} and ${NAME:default} in hostname addresses.
// It implements engine.PlaceholderResolver.
//
// # Declaration Structure
//
// Entities are declared once at the top level and referenced by id. Sharing
// is explicit: every page naming "t1" gets the same template.
//
//	layouts: [{
//	    id: "l1"
//	    boxes: [{id: "main", default_content_area: true}]
//	}]
//
//	templates: [{id: "t1", layout: "l1"}]
//
//	content: [
//	    {id: "banner", type: "text", html: "<p>Welcome</p>", path: "banner"},
//	    {id: "news", type: "markdown", markdown: "# News"},
//	]
//
//	pages: [{
//	    id: "home"
//	    template: "t1"
//	    content: [{slot: "main", content: ["banner", "news"]}]
//	}]
//
//	sites: [{
//	    id: "s1"
//	    hostnames: [{address: "${SITE_HOST:localhost}", welcome_page: "home"}]
//	    pages: ["home"]
//	}]
//
// A directory source contributes its CUE package and every YAML and JSON
// file next to it. Sources are validated one by one and their declarations
// concatenated; an id declared in two sources is an error.
//
// # Usage Example
//
//	parser := config.NewCUEParser()
//	sites, err := parser.Load(ctx, []string{"site/"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	r := engine.NewReconciler(store,
//	    engine.WithScriptEvaluator(parser),
//	    engine.WithPlaceholderResolver(config.NewEnvResolver()),
//	)
//	results, err := r.ApplyAll(ctx, sites)
//
// # Error Reporting
//
// Parse reports problems as ValidationError values carrying the file, line
// and column when CUE knows them, or the document path (for example
// "pages[2].template") for reference errors found while linking.
package config
