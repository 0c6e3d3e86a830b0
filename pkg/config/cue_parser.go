package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/sitemodel/pkg/model"
)

// CUEParser loads site declarations from CUE, YAML and JSON sources.
type CUEParser struct {
	ctx               *cue.Context
	schemaRegistry    *SchemaRegistry
	starlarkEvaluator *StarlarkEvaluator
	validator         *validator.Validate
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	ctx := cuecontext.New()
	return &CUEParser{
		ctx:               ctx,
		schemaRegistry:    newSchemaRegistry(ctx),
		starlarkEvaluator: NewStarlarkEvaluator(30 * time.Second),
		validator:         validator.New(),
	}
}

// Load parses sources and returns the linked sites. Any parse, schema or
// link error fails the load; the first few are included in the message.
func (cp *CUEParser) Load(ctx context.Context, sources []string) ([]*model.Site, error) {
	parsed, err := cp.Parse(ctx, sources)
	if err != nil {
		return nil, err
	}
	if parsed.HasErrors() {
		return nil, joinValidationErrors(parsed.Errors)
	}
	return parsed.Sites, nil
}

// EvaluateStarlark executes Starlark scripts for Script content.
func (cp *CUEParser) EvaluateStarlark(ctx context.Context, script string, input map[string]interface{}) (map[string]interface{}, error) {
	result, err := cp.starlarkEvaluator.Evaluate(ctx, script, input)
	if err != nil {
		return nil, err
	}

	if result.Error != "" {
		return nil, fmt.Errorf("starlark error: %s", result.Error)
	}

	return result.Output, nil
}

// Parse parses files and directories. Each source is validated against the
// document schema on its own and the decoded documents are concatenated, so
// a declaration may be split across files. A directory contributes its CUE
// package plus every YAML and JSON file in it.
//
// Problems with the declaration itself are reported in ParsedConfig.Errors;
// the returned error is reserved for sources that cannot be read at all.
func (cp *CUEParser) Parse(ctx context.Context, sources []string) (*ParsedConfig, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	parsed := &ParsedConfig{ParsedAt: time.Now()}

	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		if info.IsDir() {
			if err := cp.parseDirectory(source, parsed); err != nil {
				return nil, err
			}
			continue
		}

		val, errs := cp.loadFile(source)
		parsed.SourceFiles = append(parsed.SourceFiles, source)
		cp.addUnit(parsed, source, val, errs)
	}

	cp.finish(parsed)
	return parsed, nil
}

// ParseInline parses inline CUE content.
func (cp *CUEParser) ParseInline(ctx context.Context, content string) (*ParsedConfig, error) {
	parsed := &ParsedConfig{
		SourceFiles: []string{"inline"},
		ParsedAt:    time.Now(),
	}

	val := cp.ctx.CompileString(content, cue.Filename("inline"))
	var errs []ValidationError
	if err := val.Err(); err != nil {
		errs = cp.convertCUEErrors(err)
	}

	cp.addUnit(parsed, "inline", val, errs)
	cp.finish(parsed)
	return parsed, nil
}

// parseDirectory adds the CUE package and the data files of dir.
func (cp *CUEParser) parseDirectory(dir string, parsed *ParsedConfig) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	hasCUE := false
	var dataFiles []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".cue":
			hasCUE = true
		case ".yaml", ".yml", ".json":
			dataFiles = append(dataFiles, filepath.Join(dir, e.Name()))
		}
	}

	if hasCUE {
		val, files, errs := cp.loadDirectory(dir)
		parsed.SourceFiles = append(parsed.SourceFiles, files...)
		cp.addUnit(parsed, dir, val, errs)
	}

	sort.Strings(dataFiles)
	for _, f := range dataFiles {
		val, errs := cp.loadFile(f)
		parsed.SourceFiles = append(parsed.SourceFiles, f)
		cp.addUnit(parsed, f, val, errs)
	}

	if !hasCUE && len(dataFiles) == 0 {
		parsed.Errors = append(parsed.Errors, fileError(dir, "no declaration files found"))
	}
	return nil
}

// loadDirectory loads a directory as a CUE package.
func (cp *CUEParser) loadDirectory(dir string) (cue.Value, []string, []ValidationError) {
	insts := load.Instances([]string{dir}, nil)
	if len(insts) == 0 {
		return cue.Value{}, nil, []ValidationError{fileError(dir, "no CUE files found")}
	}
	if err := insts[0].Err; err != nil {
		return cue.Value{}, nil, cp.convertCUEErrors(err)
	}

	val := cp.ctx.BuildInstance(insts[0])
	if err := val.Err(); err != nil {
		return cue.Value{}, nil, cp.convertCUEErrors(err)
	}

	files := make([]string, 0, len(insts[0].Files))
	for _, f := range insts[0].Files {
		if f.Filename != "" {
			files = append(files, f.Filename)
		}
	}
	return val, files, nil
}

// loadFile loads a single CUE, YAML or JSON file. JSON is valid CUE and is
// compiled as such; YAML is decoded and encoded into a CUE value.
func (cp *CUEParser) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{fileError(path, "failed to read file: %v", err)}
	}

	var val cue.Value
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var data map[string]interface{}
		if err := yaml.Unmarshal(content, &data); err != nil {
			return cue.Value{}, []ValidationError{fileError(path, "failed to decode yaml: %v", err)}
		}
		if data == nil {
			data = map[string]interface{}{}
		}
		// encoded values are checked by the same schema as CUE sources
		val = cp.ctx.Encode(data)
	default:
		val = cp.ctx.CompileBytes(content, cue.Filename(path))
	}

	if err := val.Err(); err != nil {
		return cue.Value{}, cp.convertCUEErrors(err)
	}
	return val, nil
}

// addUnit validates one source unit against the document schema and appends
// the decoded declarations.
func (cp *CUEParser) addUnit(parsed *ParsedConfig, name string, val cue.Value, errs []ValidationError) {
	if len(errs) > 0 {
		parsed.Errors = append(parsed.Errors, errs...)
		return
	}

	schema, ok := cp.schemaRegistry.GetSchema("document")
	if !ok {
		parsed.Errors = append(parsed.Errors, fileError(name, "schema document not found"))
		return
	}

	unified, err := unify(schema, val)
	if err != nil {
		parsed.Errors = append(parsed.Errors, withFile(cp.convertCUEErrors(err), name)...)
		return
	}

	var doc Document
	if err := unified.Decode(&doc); err != nil {
		parsed.Errors = append(parsed.Errors, fileError(name, "failed to decode declaration: %v", err))
		return
	}

	parsed.Document.merge(&doc)
}

// finish validates the merged document and links it into site models.
func (cp *CUEParser) finish(parsed *ParsedConfig) {
	if parsed.HasErrors() {
		return
	}

	if err := cp.validator.Struct(parsed.Document); err != nil {
		parsed.Errors = append(parsed.Errors, ValidationError{
			Path:     "document",
			Message:  err.Error(),
			Severity: "error",
		})
		return
	}

	sites, errs := Link(&parsed.Document)
	if len(errs) > 0 {
		parsed.Errors = append(parsed.Errors, errs...)
		return
	}

	for i, site := range sites {
		if err := model.Validate(site); err != nil {
			parsed.Errors = append(parsed.Errors, ValidationError{
				Path:     fmt.Sprintf("sites[%d]", i),
				Message:  err.Error(),
				Severity: "error",
			})
		}
	}
	if parsed.HasErrors() {
		return
	}

	parsed.Sites = sites
}

func (d *Document) merge(other *Document) {
	d.Sites = append(d.Sites, other.Sites...)
	d.Pages = append(d.Pages, other.Pages...)
	d.Templates = append(d.Templates, other.Templates...)
	d.Layouts = append(d.Layouts, other.Layouts...)
	d.Content = append(d.Content, other.Content...)
	d.Libraries = append(d.Libraries, other.Libraries...)
}

// convertCUEErrors flattens a CUE error list, keeping the first position of
// each error.
func (cp *CUEParser) convertCUEErrors(err error) []ValidationError {
	list := errors.Errors(err)
	out := make([]ValidationError, 0, len(list))
	for _, e := range list {
		ve := ValidationError{
			Path:     strings.Join(e.Path(), "."),
			Message:  errors.Details(e, nil),
			Severity: "error",
		}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File, ve.Line, ve.Column = pos[0].Filename(), pos[0].Line(), pos[0].Column()
		}
		out = append(out, ve)
	}
	return out
}

func fileError(file, format string, args ...interface{}) ValidationError {
	return ValidationError{File: file, Message: fmt.Sprintf(format, args...), Severity: "error"}
}

// withFile fills in the file of errors that carry no position, which is the
// case for values encoded from YAML.
func withFile(errs []ValidationError, file string) []ValidationError {
	for i := range errs {
		if errs[i].File == "" {
			errs[i].File = file
		}
	}
	return errs
}

// ValidateWithSchema validates data against a registered schema.
func (cp *CUEParser) ValidateWithSchema(ctx context.Context, data interface{}, schemaName string) error {
	return cp.schemaRegistry.ValidateAgainstSchema(ctx, schemaName, data)
}

// GetSchemaRegistry returns the schema registry.
func (cp *CUEParser) GetSchemaRegistry() *SchemaRegistry {
	return cp.schemaRegistry
}

// ExportJSON renders the merged document of a parse as indented JSON.
func (cp *CUEParser) ExportJSON(parsed *ParsedConfig) ([]byte, error) {
	data, err := json.MarshalIndent(parsed.Document, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return data, nil
}

func joinValidationErrors(errs []ValidationError) error {
	const limit = 5
	msgs := make([]string, 0, limit+1)
	for i, e := range errs {
		if i == limit {
			msgs = append(msgs, fmt.Sprintf("and %d more", len(errs)-limit))
			break
		}
		msgs = append(msgs, e.Error())
	}
	return fmt.Errorf("invalid declaration: %s", strings.Join(msgs, "; "))
}
