// Package policy provides Open Policy Agent (OPA) integration for site
// declarations.
//
// Before a site is reconciled, the engine flattens it into a JSON document
// (see NewSiteInput) and evaluates every enabled Rego policy against it. The
// reconciler receives the result through the engine.PolicyEngine interface and
// refuses to apply when a violation of error or critical severity is found
// and enforcement is on.
//
// Engine compiles and evaluates policies. Loader reads them from .rego files,
// from .json and .yaml definitions that carry the Rego source inline, and
// from bundles; it can also watch those paths and reload on change.
//
// # Usage
//
//	engine, err := policy.NewEngine(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := engine.LoadPolicies(ctx, []string{"policies/"}); err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := engine.EvaluateSite(ctx, site)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, v := range result.Violations {
//	    fmt.Printf("%s: %s (%s)\n", v.Policy, v.Message, v.Entity)
//	}
//
// # Built-in Policies
//
//  1. hostname-format - Addresses are lowercase host names
//  2. welcome-page - Every hostname names a welcome page
//  3. protected-pages - Pages with a permission name an authentication page
//  4. unique-paths - Pages and content do not claim the same path
//  5. html-ids - Content html ids are unique
//  6. removal-conflicts - Removed entities are not also declared
//
// # Custom Policies
//
// Custom policies are Rego v1 modules whose deny set holds either messages
// or objects with message, severity and entity keys. The leading comment
// block is the description; severity and tags directives set the policy's
// defaults:
//
//	# Marketing pages live under /campaigns.
//	# severity: error
//	# tags: pages
//	package custom.campaigns
//
//	import rego.v1
//
//	deny contains violation if {
//	    some p in input.site.pages
//	    p.template == "campaign"
//	    not startswith(p.path, "/campaigns/")
//	    violation := {
//	        "message": sprintf("campaign page %s is outside /campaigns", [p.id]),
//	        "entity": sprintf("page:%s", [p.id]),
//	    }
//	}
//
// The evaluation context (user, environment, operation) is available under
// input.context.
package policy
