package engine

import (
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/yungbote/schema-registry/internal/domain/registry"
)

func composeContract(merged *ast.SchemaDocument, pre prelude, spec ContractSpec) registry.ContractCompositionResult {
	res := registry.ContractCompositionResult{ContractID: spec.ID}
	filtered := filterContract(merged, spec)
	if !hasRoot(filtered, "Query") {
		res.Errors = []registry.CompositionError{{
			Message: fmt.Sprintf("Contract %q has no Query fields left after filtering.", spec.Name),
			Source:  registry.ErrorSourceContract,
		}}
		return res
	}
	sdl, supergraph, errs := render(filtered, pre, true)
	if len(errs) > 0 {
		for i := range errs {
			errs[i].Source = registry.ErrorSourceContract
		}
		res.Errors = errs
		return res
	}
	res.SDL = &sdl
	res.Supergraph = &supergraph
	res.Errors = []registry.CompositionError{}
	return res
}

func toSet(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[v] = true
	}
	return out
}

func intersects(a, b map[string]bool) bool {
	for k := range a {
		if b[k] {
			return true
		}
	}
	return false
}

func hasRoot(doc *ast.SchemaDocument, name string) bool {
	for _, def := range doc.Definitions {
		if def.Name == name {
			return len(def.Fields) > 0
		}
	}
	return false
}

// filterContract applies a contract's tag filter to the merged service document. Elements tagged
// with an excluded tag are dropped; with include tags, only fields tagged (directly or through
// their type) with one of them survive. References to dropped types are pruned until stable.
func filterContract(doc *ast.SchemaDocument, spec ContractSpec) *ast.SchemaDocument {
	include := toSet(spec.IncludeTags)
	exclude := toSet(spec.ExcludeTags)

	defs := map[string]*ast.Definition{}
	var order []string
	for _, def := range doc.Definitions {
		typeTags := tagsOf(def.Directives)
		if intersects(typeTags, exclude) {
			continue
		}
		c := cloneDefinition(def)
		switch def.Kind {
		case ast.Object, ast.Interface, ast.InputObject:
			var kept ast.FieldList
			for _, f := range c.Fields {
				fieldTags := tagsOf(f.Directives)
				if intersects(fieldTags, exclude) {
					continue
				}
				if len(include) > 0 && !intersects(fieldTags, include) && !intersects(typeTags, include) {
					continue
				}
				var args ast.ArgumentDefinitionList
				for _, a := range f.Arguments {
					if !intersects(tagsOf(a.Directives), exclude) {
						args = append(args, a)
					}
				}
				f.Arguments = args
				kept = append(kept, f)
			}
			c.Fields = kept
		case ast.Enum:
			var values ast.EnumValueList
			for _, v := range c.EnumValues {
				if !intersects(tagsOf(v.Directives), exclude) {
					values = append(values, v)
				}
			}
			c.EnumValues = values
		}
		defs[c.Name] = c
		order = append(order, c.Name)
	}

	pruneDangling(defs)
	if spec.RemoveUnreachableTypes {
		removeUnreachable(defs)
	}

	out := &ast.SchemaDocument{Schema: doc.Schema, Directives: doc.Directives}
	for _, name := range order {
		if d, ok := defs[name]; ok {
			out.Definitions = append(out.Definitions, d)
		}
	}
	return out
}

func pruneDangling(defs map[string]*ast.Definition) {
	exists := func(name string) bool { return builtinScalars[name] || defs[name] != nil }
	for changed := true; changed; {
		changed = false
		for name, def := range defs {
			switch def.Kind {
			case ast.Object, ast.Interface, ast.InputObject:
				var kept ast.FieldList
				for _, f := range def.Fields {
					if !exists(f.Type.Name()) {
						continue
					}
					var args ast.ArgumentDefinitionList
					drop := false
					for _, a := range f.Arguments {
						if exists(a.Type.Name()) {
							args = append(args, a)
						} else if a.Type.NonNull && a.DefaultValue == nil {
							drop = true
						}
					}
					if drop {
						continue
					}
					f.Arguments = args
					kept = append(kept, f)
				}
				if len(kept) != len(def.Fields) {
					def.Fields = kept
					changed = true
				}
				var ifaces []string
				for _, i := range def.Interfaces {
					if exists(i) {
						ifaces = append(ifaces, i)
					}
				}
				if len(ifaces) != len(def.Interfaces) {
					def.Interfaces = ifaces
					changed = true
				}
				if len(def.Fields) == 0 {
					delete(defs, name)
					changed = true
				}
			case ast.Union:
				var members []string
				for _, t := range def.Types {
					if exists(t) {
						members = append(members, t)
					}
				}
				if len(members) != len(def.Types) {
					def.Types = members
					changed = true
				}
				if len(def.Types) == 0 {
					delete(defs, name)
					changed = true
				}
			case ast.Enum:
				if len(def.EnumValues) == 0 {
					delete(defs, name)
					changed = true
				}
			}
		}
	}
}

func removeUnreachable(defs map[string]*ast.Definition) {
	reach := map[string]bool{}
	var queue []string
	visit := func(name string) {
		if reach[name] || defs[name] == nil {
			return
		}
		reach[name] = true
		queue = append(queue, name)
	}
	for _, root := range []string{"Query", "Mutation", "Subscription"} {
		visit(root)
	}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		def := defs[name]
		for _, f := range def.Fields {
			visit(f.Type.Name())
			for _, a := range f.Arguments {
				visit(a.Type.Name())
			}
		}
		for _, i := range def.Interfaces {
			visit(i)
		}
		for _, t := range def.Types {
			visit(t)
		}
		if def.Kind == ast.Interface {
			for other, od := range defs {
				for _, i := range od.Interfaces {
					if i == name {
						visit(other)
					}
				}
			}
		}
	}
	for name := range defs {
		if !reach[name] {
			delete(defs, name)
		}
	}
}
