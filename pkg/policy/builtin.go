package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		hostnameFormatPolicy(),
		welcomePagePolicy(),
		protectedPagesPolicy(),
		uniquePathsPolicy(),
		htmlIDsPolicy(),
		removalConflictsPolicy(),
	}
}

func builtin(name, description string, severity Severity, tags []string, rego string) Policy {
	now := time.Now()
	return Policy{
		Name:        name,
		Description: description,
		Severity:    severity,
		Enabled:     true,
		Tags:        tags,
		Metadata:    map[string]interface{}{"source": "builtin"},
		CreatedAt:   now,
		UpdatedAt:   now,
		Rego:        rego,
	}
}

// hostnameFormatPolicy rejects addresses that are not lowercase host names.
// Addresses with placeholders are checked after resolution by the reconciler.
func hostnameFormatPolicy() Policy {
	return builtin("hostname-format",
		"Hostname addresses must be lowercase host names with an optional port",
		SeverityError, []string{"hostnames"}, `package sitemodel.policies.hostnames

import rego.v1

deny contains violation if {
	some h in input.site.hostnames
	not contains(h.address, "${")
	not regex.match("^[a-z0-9]([a-z0-9-]*[a-z0-9])?(\\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)*(:[0-9]+)?$", h.address)
	violation := {
		"message": sprintf("hostname '%s' is not a valid lowercase host name", [h.address]),
		"severity": "error",
		"entity": sprintf("hostname:%s", [h.address]),
	}
}
`)
}

// welcomePagePolicy warns about hostnames that serve no page at their root.
func welcomePagePolicy() Policy {
	return builtin("welcome-page",
		"Every hostname should name a welcome page",
		SeverityWarning, []string{"hostnames", "pages"}, `package sitemodel.policies.welcome

import rego.v1

deny contains violation if {
	some h in input.site.hostnames
	not h.welcome_page
	violation := {
		"message": sprintf("hostname '%s' has no welcome page", [h.address]),
		"severity": "warning",
		"entity": sprintf("hostname:%s", [h.address]),
	}
}
`)
}

// protectedPagesPolicy requires a login page for every page with a permission.
func protectedPagesPolicy() Policy {
	return builtin("protected-pages",
		"Pages guarded by a permission must name an authentication page",
		SeverityError, []string{"pages", "security"}, `package sitemodel.policies.protected

import rego.v1

deny contains violation if {
	some p in input.site.pages
	p.permission
	not p.auth_page
	violation := {
		"message": sprintf("page %s requires permission '%s' but has no authentication page", [p.id, p.permission]),
		"severity": "error",
		"entity": sprintf("page:%s", [p.id]),
	}
}

deny contains violation if {
	some p in input.site.pages
	p.auth_page == p.id
	violation := {
		"message": sprintf("page %s is its own authentication page", [p.id]),
		"severity": "error",
		"entity": sprintf("page:%s", [p.id]),
	}
}
`)
}

// uniquePathsPolicy finds path collisions before they reach the path registry.
func uniquePathsPolicy() Policy {
	return builtin("unique-paths",
		"Pages and content must not claim the same path",
		SeverityError, []string{"paths"}, `package sitemodel.policies.paths

import rego.v1

page_path(p) := path if {
	path := trim(p.path, "/*")
	path != ""
} else := p.id

deny contains violation if {
	some i, a in input.site.pages
	some j, b in input.site.pages
	i < j
	page_path(a) == page_path(b)
	violation := {
		"message": sprintf("pages %s and %s both claim path '%s'", [a.id, b.id, page_path(a)]),
		"severity": "error",
		"entity": sprintf("page:%s", [b.id]),
	}
}

deny contains violation if {
	some c in input.site.content
	c.path
	some p in input.site.pages
	trim(c.path, "/*") == page_path(p)
	violation := {
		"message": sprintf("content %s claims path '%s' of page %s", [c.id, page_path(p), p.id]),
		"severity": "error",
		"entity": sprintf("content:%s", [c.id]),
	}
}

deny contains violation if {
	some i, a in input.site.content
	some j, b in input.site.content
	i < j
	a.path
	trim(a.path, "/*") == trim(b.path, "/*")
	violation := {
		"message": sprintf("content %s and %s both claim path '%s'", [a.id, b.id, trim(a.path, "/*")]),
		"severity": "error",
		"entity": sprintf("content:%s", [b.id]),
	}
}
`)
}

// htmlIDsPolicy warns about markup ids reused by different content.
func htmlIDsPolicy() Policy {
	return builtin("html-ids",
		"Content html ids should be unique within a site",
		SeverityWarning, []string{"markup"}, `package sitemodel.policies.markup

import rego.v1

deny contains violation if {
	some i, a in input.site.content
	some j, b in input.site.content
	i < j
	a.html_id
	a.html_id == b.html_id
	violation := {
		"message": sprintf("content %s and %s share html id '%s'", [a.id, b.id, a.html_id]),
		"severity": "warning",
		"entity": sprintf("content:%s", [b.id]),
	}
}
`)
}

// removalConflictsPolicy warns when removed entities are still declared.
// The reconciler skips them everywhere, which is rarely what was meant.
func removalConflictsPolicy() Policy {
	return builtin("removal-conflicts",
		"Removed content and pages should not also be declared",
		SeverityWarning, []string{"removals"}, `package sitemodel.policies.removals

import rego.v1

deny contains violation if {
	some id in input.site.remove_content
	some c in input.site.content
	c.id == id
	violation := {
		"message": sprintf("content %s is both declared and removed", [id]),
		"severity": "warning",
		"entity": sprintf("content:%s", [id]),
	}
}

deny contains violation if {
	some id in input.site.remove_pages
	some p in input.site.pages
	p.id == id
	violation := {
		"message": sprintf("page %s is both declared and removed", [id]),
		"severity": "warning",
		"entity": sprintf("page:%s", [id]),
	}
}
`)
}
