package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	return newSchemaRegistry(cuecontext.New())
}

// newSchemaRegistry builds a registry on ctx. Values compiled in different
// contexts cannot be unified, so the parser shares its context.
func newSchemaRegistry(ctx *cue.Context) *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}

	// The built-in sources are constants; a compile failure is a bug.
	for name, def := range builtinDefinitions {
		if err := sr.RegisterSchema(name, builtinSiteSchema, def); err != nil {
			panic(err)
		}
	}

	return sr
}

// builtinDefinitions maps schema names to definitions in builtinSiteSchema.
var builtinDefinitions = map[string]string{
	"document": "#Document",
	"site":     "#Site",
	"page":     "#Page",
	"template": "#Template",
	"layout":   "#Layout",
	"content":  "#Content",
	"library":  "#Library",
}

// RegisterSchema compiles schema and registers the definition it names under
// name. An empty definition registers the whole compiled value.
func (sr *SchemaRegistry) RegisterSchema(name, schema, definition string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	if definition != "" {
		val = val.LookupPath(cue.ParsePath(definition))
		if !val.Exists() {
			return fmt.Errorf("schema %s does not define %s", name, definition)
		}
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	var dataVal cue.Value
	switch v := data.(type) {
	case cue.Value:
		dataVal = v
	default:
		dataVal = sr.ctx.Encode(data)
	}
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	if _, err := unify(schema, dataVal); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// unify returns val constrained by schema. The error is the unwrapped CUE
// error so callers can read its positions.
func unify(schema, val cue.Value) (cue.Value, error) {
	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, err
	}
	return unified, nil
}

// ListSchemas returns all registered schema names in sorted order.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateSite validates a site declaration against the site schema.
func (sr *SchemaRegistry) ValidateSite(ctx context.Context, site SiteConfig) error {
	return sr.ValidateAgainstSchema(ctx, "site", site)
}

// ValidateContent validates a content declaration against the content schema.
func (sr *SchemaRegistry) ValidateContent(ctx context.Context, content ContentConfig) error {
	return sr.ValidateAgainstSchema(ctx, "content", content)
}

// Built-in schema definitions

const builtinSiteSchema = `
#ID: string & =~"^[A-Za-z0-9][A-Za-z0-9_.-]*$"

#Resources: {
	css?: [...string]
	js?: [...string]
}

#Library: {
	id:    #ID
	path:  string & !=""
	type?: string
}

#Box: {
	id:                    #ID
	type?:                 string
	default_content_area?: bool
	html_id?:              string
	html_class?:           string
	children?: [...#Box]
}

#Layout: {
	id: #ID
	boxes: [...#Box]
}

#Placement: {
	slot: string & !=""
	content: [...#ID]
}

#Template: {
	#Resources
	id:       #ID
	layout:   #ID
	html_id?: string
	content?: [...#Placement]
	remove?: [...#ID]
}

#Page: {
	#Resources
	id:          #ID
	path?:       string
	template?:   #ID
	layout?:     #ID
	permission?: string
	auth_page?:  #ID
	content?: [...#Placement]
	remove?: [...#ID]
}

#Content: {
	#Resources
	id:          #ID
	type:        "text" | "markdown" | "script" | "container" | "composite" | "application_function"
	path?:       string
	html_id?:    string
	html_class?: string

	html?:     string
	markdown?: string

	source?:  string
	library?: #ID
	input?: {...}

	purpose?: string
	children?: [...#ID]
	remove?: [...#ID]

	default_purpose?: string
	delegates?: [...{
		purpose?: string
		content:  #ID
	}]
	attributes?: {[string]: string}

	function?:      string
	component?:     string
	register_link?: bool
	parameters?: {[string]: string}
}

#Hostname: {
	address:       string & !=""
	welcome_page?: #ID
}

#Site: {
	id:                #ID
	primary_locale?:   string
	default_timezone?: string
	hostnames: [...#Hostname]
	pages?: [...#ID]
	content?: [...#ID]
	libraries?: [...#ID]
	remove_content?: [...#ID]
	remove_pages?: [...#ID]
}

#Document: {
	sites?: [...#Site]
	pages?: [...#Page]
	templates?: [...#Template]
	layouts?: [...#Layout]
	content?: [...#Content]
	libraries?: [...#Library]
}
`
