package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/yungbote/schema-registry/internal/domain/registry"
	"github.com/yungbote/schema-registry/internal/platform/logger"
)

const federationPrelude = `
scalar _FieldSet
scalar _Any
directive @key(fields: _FieldSet!, resolvable: Boolean = true) repeatable on OBJECT | INTERFACE
directive @external on FIELD_DEFINITION | OBJECT
directive @requires(fields: _FieldSet!) on FIELD_DEFINITION
directive @provides(fields: _FieldSet!) on FIELD_DEFINITION
directive @extends on OBJECT | INTERFACE
directive @shareable repeatable on OBJECT | FIELD_DEFINITION
directive @inaccessible on FIELD_DEFINITION | OBJECT | INTERFACE | UNION | ARGUMENT_DEFINITION | SCALAR | ENUM | ENUM_VALUE | INPUT_OBJECT | INPUT_FIELD_DEFINITION
directive @override(from: String!) on FIELD_DEFINITION
directive @tag(name: String!) repeatable on FIELD_DEFINITION | OBJECT | INTERFACE | UNION | ARGUMENT_DEFINITION | SCALAR | ENUM | ENUM_VALUE | INPUT_OBJECT | INPUT_FIELD_DEFINITION
`

const stitchingPrelude = `
directive @key(selectionSet: String!) on OBJECT
directive @computed(selectionSet: String!) on FIELD_DEFINITION
directive @merge(argsExpr: String, keyArg: String, keyField: String, key: [String!], additionalArgs: String) on FIELD_DEFINITION
directive @canonical on OBJECT | INTERFACE | INPUT_OBJECT | UNION | ENUM | SCALAR | FIELD_DEFINITION | INPUT_FIELD_DEFINITION
`

// prelude holds the directives and scalars a project type may use without declaring them.
type prelude struct {
	doc        *ast.SchemaDocument
	directives map[string]bool
	types      map[string]bool
}

func mustPrelude(name, sdl string) prelude {
	doc, err := parser.ParseSchema(&ast.Source{Name: name, Input: sdl})
	if err != nil {
		panic(fmt.Sprintf("parse %s prelude: %v", name, err))
	}
	p := prelude{doc: doc, directives: map[string]bool{}, types: map[string]bool{}}
	for _, d := range doc.Directives {
		p.directives[d.Name] = true
	}
	for _, d := range doc.Definitions {
		p.types[d.Name] = true
	}
	return p
}

var (
	federationDirectives = mustPrelude("federation", federationPrelude)
	stitchingDirectives  = mustPrelude("stitching", stitchingPrelude)
	noDirectives         = prelude{directives: map[string]bool{}, types: map[string]bool{}}
)

func preludeFor(t registry.ProjectType) prelude {
	switch t {
	case registry.ProjectTypeFederation:
		return federationDirectives
	case registry.ProjectTypeStitching:
		return stitchingDirectives
	default:
		return noDirectives
	}
}

var builtinScalars = map[string]bool{"String": true, "Int": true, "Float": true, "Boolean": true, "ID": true}

// Local composes in-process. It validates and merges documents but does not run the query
// planner checks a production federation composer does.
type Local struct {
	log *logger.Logger
}

func NewLocal(log *logger.Logger) *Local {
	return &Local{log: log.With("service", "CompositionLocal")}
}

type namedDocument struct {
	service string
	doc     *ast.SchemaDocument
}

func (e *Local) Compose(ctx context.Context, req Request) (registry.CompositionResult, error) {
	if err := ctx.Err(); err != nil {
		return registry.CompositionResult{}, err
	}
	if !req.ProjectType.Valid() {
		return registry.CompositionResult{}, fmt.Errorf("unsupported project type %q", req.ProjectType)
	}
	if req.External != nil && req.External.Endpoint != "" {
		e.log.Debug("external composition endpoint ignored by local engine", "endpoint", req.External.Endpoint)
	}
	if len(req.Schemas) == 0 {
		return registry.CompositionResult{Errors: []registry.CompositionError{
			{Message: "No schemas to compose.", Source: registry.ErrorSourceComposition},
		}}, nil
	}

	docs, errs := parseSources(req)
	if len(errs) > 0 {
		return registry.CompositionResult{Errors: errs}, nil
	}
	pre := preludeFor(req.ProjectType)
	m := newMerger(pre)
	for _, d := range docs {
		m.addDocument(d.service, d.doc)
	}
	if len(m.errs) > 0 {
		return registry.CompositionResult{Errors: m.errs}, nil
	}
	merged := m.document()

	federated := req.ProjectType == registry.ProjectTypeFederation
	sdl, supergraph, errs := render(merged, pre, federated)
	if len(errs) > 0 {
		return registry.CompositionResult{Errors: errs}, nil
	}
	out := registry.CompositionResult{SDL: &sdl, Errors: []registry.CompositionError{}, Tags: collectTags(merged)}
	if federated {
		out.Supergraph = &supergraph
		for _, spec := range req.Contracts {
			out.Contracts = append(out.Contracts, composeContract(merged, pre, spec))
		}
	}
	return out, nil
}

func parseSources(req Request) ([]namedDocument, []registry.CompositionError) {
	var docs []namedDocument
	var errs []registry.CompositionError
	add := func(service, label, sdl string) {
		doc, err := parser.ParseSchema(&ast.Source{Name: label, Input: sdl})
		if err != nil {
			for _, e := range toErrors(err, registry.ErrorSourceGraphQL) {
				if service != "" {
					e.Message = fmt.Sprintf("[%s] %s", service, e.Message)
				}
				errs = append(errs, e)
			}
			return
		}
		docs = append(docs, namedDocument{service: service, doc: doc})
	}
	if strings.TrimSpace(req.BaseSchema) != "" {
		add("base", "base", req.BaseSchema)
	}
	for _, s := range req.Schemas {
		label := s.Name
		if label == "" {
			label = "schema"
		}
		add(s.Name, label, s.SDL)
	}
	return docs, errs
}

func toErrors(err error, source registry.CompositionErrorSource) []registry.CompositionError {
	var list gqlerror.List
	if errors.As(err, &list) {
		out := make([]registry.CompositionError, 0, len(list))
		for _, e := range list {
			out = append(out, registry.CompositionError{Message: e.Message, Source: source})
		}
		return out
	}
	var one *gqlerror.Error
	if errors.As(err, &one) {
		return []registry.CompositionError{{Message: one.Message, Source: source}}
	}
	return []registry.CompositionError{{Message: err.Error(), Source: source}}
}

func format(doc *ast.SchemaDocument) string {
	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatSchemaDocument(doc)
	return buf.String()
}

// render validates doc with and without the prelude. The public SDL drops prelude directives and
// @inaccessible elements; the supergraph keeps them.
func render(doc *ast.SchemaDocument, pre prelude, withSupergraph bool) (string, string, []registry.CompositionError) {
	full := &ast.SchemaDocument{Schema: doc.Schema, Directives: doc.Directives, Definitions: doc.Definitions}
	if pre.doc != nil {
		full.Directives = append(append(ast.DirectiveDefinitionList{}, pre.doc.Directives...), doc.Directives...)
		full.Definitions = append(append(ast.DefinitionList{}, pre.doc.Definitions...), doc.Definitions...)
	}
	fullSDL := format(full)
	if _, err := gqlparser.LoadSchema(&ast.Source{Name: "supergraph", Input: fullSDL}); err != nil {
		return "", "", toErrors(err, registry.ErrorSourceComposition)
	}
	sdl := format(publicDocument(doc, pre))
	if _, err := gqlparser.LoadSchema(&ast.Source{Name: "schema", Input: sdl}); err != nil {
		return "", "", toErrors(err, registry.ErrorSourceComposition)
	}
	if !withSupergraph {
		return sdl, "", nil
	}
	return sdl, fullSDL, nil
}

func hasDirective(list ast.DirectiveList, name string) bool {
	return list.ForName(name) != nil
}

func stripDirectives(list ast.DirectiveList, pre prelude) ast.DirectiveList {
	var out ast.DirectiveList
	for _, d := range list {
		if !pre.directives[d.Name] {
			out = append(out, d)
		}
	}
	return out
}

func publicDocument(doc *ast.SchemaDocument, pre prelude) *ast.SchemaDocument {
	out := &ast.SchemaDocument{Schema: doc.Schema}
	for _, d := range doc.Directives {
		if !pre.directives[d.Name] {
			out.Directives = append(out.Directives, d)
		}
	}
	for _, def := range doc.Definitions {
		if pre.types[def.Name] || hasDirective(def.Directives, "inaccessible") {
			continue
		}
		c := *def
		c.Directives = stripDirectives(def.Directives, pre)
		c.Fields = nil
		for _, f := range def.Fields {
			if hasDirective(f.Directives, "inaccessible") {
				continue
			}
			fc := *f
			fc.Directives = stripDirectives(f.Directives, pre)
			fc.Arguments = nil
			for _, a := range f.Arguments {
				if hasDirective(a.Directives, "inaccessible") {
					continue
				}
				ac := *a
				ac.Directives = stripDirectives(a.Directives, pre)
				fc.Arguments = append(fc.Arguments, &ac)
			}
			c.Fields = append(c.Fields, &fc)
		}
		c.EnumValues = nil
		for _, v := range def.EnumValues {
			if hasDirective(v.Directives, "inaccessible") {
				continue
			}
			vc := *v
			vc.Directives = stripDirectives(v.Directives, pre)
			c.EnumValues = append(c.EnumValues, &vc)
		}
		out.Definitions = append(out.Definitions, &c)
	}
	return out
}

type merger struct {
	pre        prelude
	defs       map[string]*ast.Definition
	owner      map[string]string
	directives map[string]*ast.DirectiveDefinition
	schema     ast.SchemaDefinitionList
	errs       []registry.CompositionError
}

func newMerger(pre prelude) *merger {
	return &merger{
		pre:        pre,
		defs:       map[string]*ast.Definition{},
		owner:      map[string]string{},
		directives: map[string]*ast.DirectiveDefinition{},
	}
}

func label(service string) string {
	if service == "" {
		return "the schema"
	}
	return fmt.Sprintf("service %q", service)
}

func (m *merger) fail(format string, args ...interface{}) {
	m.errs = append(m.errs, registry.CompositionError{Message: fmt.Sprintf(format, args...), Source: registry.ErrorSourceComposition})
}

func (m *merger) addDocument(service string, doc *ast.SchemaDocument) {
	for _, d := range doc.Directives {
		if m.pre.directives[d.Name] {
			continue
		}
		if _, ok := m.directives[d.Name]; !ok {
			m.directives[d.Name] = d
		}
	}
	if len(m.schema) == 0 && len(doc.Schema) > 0 {
		m.schema = doc.Schema
	}
	for _, def := range doc.Definitions {
		m.addDefinition(service, def)
	}
	for _, def := range doc.Extensions {
		m.addDefinition(service, def)
	}
}

func (m *merger) addDefinition(service string, def *ast.Definition) {
	if m.pre.types[def.Name] {
		return
	}
	cur, ok := m.defs[def.Name]
	if !ok {
		m.defs[def.Name] = cloneDefinition(def)
		m.owner[def.Name] = service
		for _, f := range def.Fields {
			m.owner[def.Name+"."+f.Name] = service
		}
		return
	}
	if cur.Kind != def.Kind {
		m.fail("Type %q is %s in %s but %s in %s.", def.Name, cur.Kind, label(m.owner[def.Name]), def.Kind, label(service))
		return
	}
	if cur.Description == "" {
		cur.Description = def.Description
	}
	cur.Directives = mergeDirectives(cur.Directives, def.Directives)
	cur.Interfaces = unionStrings(cur.Interfaces, def.Interfaces)
	cur.Types = unionStrings(cur.Types, def.Types)
	for _, v := range def.EnumValues {
		if cur.EnumValues.ForName(v.Name) == nil {
			vc := *v
			cur.EnumValues = append(cur.EnumValues, &vc)
		}
	}
	for _, f := range def.Fields {
		key := def.Name + "." + f.Name
		ex := cur.Fields.ForName(f.Name)
		if ex == nil {
			cur.Fields = append(cur.Fields, cloneField(f))
			m.owner[key] = service
			continue
		}
		if ex.Type.String() != f.Type.String() {
			m.fail("Field %q is %s in %s but %s in %s.", key, ex.Type.String(), label(m.owner[key]), f.Type.String(), label(service))
			continue
		}
		ex.Directives = mergeDirectives(ex.Directives, f.Directives)
		for _, a := range f.Arguments {
			ea := ex.Arguments.ForName(a.Name)
			if ea == nil {
				ac := *a
				ex.Arguments = append(ex.Arguments, &ac)
				continue
			}
			if ea.Type.String() != a.Type.String() {
				m.fail("Argument %q of %q is %s in %s but %s in %s.", a.Name, key, ea.Type.String(), label(m.owner[key]), a.Type.String(), label(service))
			}
		}
	}
}

func (m *merger) document() *ast.SchemaDocument {
	doc := &ast.SchemaDocument{Schema: m.schema}
	names := make([]string, 0, len(m.defs))
	for n := range m.defs {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		doc.Definitions = append(doc.Definitions, m.defs[n])
	}
	dnames := make([]string, 0, len(m.directives))
	for n := range m.directives {
		dnames = append(dnames, n)
	}
	sort.Strings(dnames)
	for _, n := range dnames {
		doc.Directives = append(doc.Directives, m.directives[n])
	}
	return doc
}

func cloneField(f *ast.FieldDefinition) *ast.FieldDefinition {
	c := *f
	c.Directives = append(ast.DirectiveList(nil), f.Directives...)
	c.Arguments = nil
	for _, a := range f.Arguments {
		ac := *a
		ac.Directives = append(ast.DirectiveList(nil), a.Directives...)
		c.Arguments = append(c.Arguments, &ac)
	}
	return &c
}

func cloneDefinition(def *ast.Definition) *ast.Definition {
	c := *def
	c.Directives = append(ast.DirectiveList(nil), def.Directives...)
	c.Interfaces = append([]string(nil), def.Interfaces...)
	c.Types = append([]string(nil), def.Types...)
	c.Fields = nil
	for _, f := range def.Fields {
		c.Fields = append(c.Fields, cloneField(f))
	}
	c.EnumValues = nil
	for _, v := range def.EnumValues {
		vc := *v
		vc.Directives = append(ast.DirectiveList(nil), v.Directives...)
		c.EnumValues = append(c.EnumValues, &vc)
	}
	return &c
}

func directiveKey(d *ast.Directive) string {
	var b strings.Builder
	b.WriteString(d.Name)
	for _, a := range d.Arguments {
		b.WriteString("|")
		b.WriteString(a.Name)
		b.WriteString("=")
		if a.Value != nil {
			b.WriteString(a.Value.String())
		}
	}
	return b.String()
}

func mergeDirectives(a, b ast.DirectiveList) ast.DirectiveList {
	seen := make(map[string]bool, len(a))
	for _, d := range a {
		seen[directiveKey(d)] = true
	}
	out := a
	for _, d := range b {
		k := directiveKey(d)
		if !seen[k] {
			seen[k] = true
			out = append(out, d)
		}
	}
	return out
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	for _, s := range a {
		seen[s] = true
	}
	out := a
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func tagsOf(list ast.DirectiveList) map[string]bool {
	out := map[string]bool{}
	for _, d := range list.ForNames("tag") {
		if arg := d.Arguments.ForName("name"); arg != nil && arg.Value != nil {
			out[arg.Value.Raw] = true
		}
	}
	return out
}

func collectTags(doc *ast.SchemaDocument) []string {
	set := map[string]bool{}
	add := func(list ast.DirectiveList) {
		for t := range tagsOf(list) {
			set[t] = true
		}
	}
	for _, def := range doc.Definitions {
		add(def.Directives)
		for _, f := range def.Fields {
			add(f.Directives)
			for _, a := range f.Arguments {
				add(a.Directives)
			}
		}
		for _, v := range def.EnumValues {
			add(v.Directives)
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
