package diff

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/yungbote/schema-registry/internal/domain/registry"
)

const (
	TypeRemoved                 registry.ChangeType = "TYPE_REMOVED"
	TypeAdded                   registry.ChangeType = "TYPE_ADDED"
	TypeKindChanged             registry.ChangeType = "TYPE_KIND_CHANGED"
	TypeDescriptionChanged      registry.ChangeType = "TYPE_DESCRIPTION_CHANGED"
	FieldRemoved                registry.ChangeType = "FIELD_REMOVED"
	FieldAdded                  registry.ChangeType = "FIELD_ADDED"
	FieldTypeChanged            registry.ChangeType = "FIELD_TYPE_CHANGED"
	FieldDescriptionChanged     registry.ChangeType = "FIELD_DESCRIPTION_CHANGED"
	FieldDeprecationAdded       registry.ChangeType = "FIELD_DEPRECATION_ADDED"
	FieldDeprecationRemoved     registry.ChangeType = "FIELD_DEPRECATION_REMOVED"
	FieldArgumentAdded          registry.ChangeType = "FIELD_ARGUMENT_ADDED"
	FieldArgumentRemoved        registry.ChangeType = "FIELD_ARGUMENT_REMOVED"
	FieldArgumentTypeChanged    registry.ChangeType = "FIELD_ARGUMENT_TYPE_CHANGED"
	FieldArgumentDefaultChanged registry.ChangeType = "FIELD_ARGUMENT_DEFAULT_CHANGED"
	InputFieldAdded             registry.ChangeType = "INPUT_FIELD_ADDED"
	InputFieldRemoved           registry.ChangeType = "INPUT_FIELD_REMOVED"
	InputFieldTypeChanged       registry.ChangeType = "INPUT_FIELD_TYPE_CHANGED"
	InputFieldDefaultChanged    registry.ChangeType = "INPUT_FIELD_DEFAULT_VALUE_CHANGED"
	EnumValueAdded              registry.ChangeType = "ENUM_VALUE_ADDED"
	EnumValueRemoved            registry.ChangeType = "ENUM_VALUE_REMOVED"
	UnionMemberAdded            registry.ChangeType = "UNION_MEMBER_ADDED"
	UnionMemberRemoved          registry.ChangeType = "UNION_MEMBER_REMOVED"
	InterfaceAdded              registry.ChangeType = "OBJECT_TYPE_INTERFACE_ADDED"
	InterfaceRemoved            registry.ChangeType = "OBJECT_TYPE_INTERFACE_REMOVED"
	DirectiveAdded              registry.ChangeType = "DIRECTIVE_ADDED"
	DirectiveRemoved            registry.ChangeType = "DIRECTIVE_REMOVED"
)

type schemaIndex struct {
	types      map[string]*ast.Definition
	directives map[string]*ast.DirectiveDefinition
}

// indexDocument folds extensions into their base definitions.
func indexDocument(doc *ast.SchemaDocument) schemaIndex {
	idx := schemaIndex{types: map[string]*ast.Definition{}, directives: map[string]*ast.DirectiveDefinition{}}
	add := func(def *ast.Definition) {
		cur, ok := idx.types[def.Name]
		if !ok {
			c := *def
			c.Fields = append(ast.FieldList(nil), def.Fields...)
			c.EnumValues = append(ast.EnumValueList(nil), def.EnumValues...)
			c.Interfaces = append([]string(nil), def.Interfaces...)
			c.Types = append([]string(nil), def.Types...)
			idx.types[def.Name] = &c
			return
		}
		for _, f := range def.Fields {
			if cur.Fields.ForName(f.Name) == nil {
				cur.Fields = append(cur.Fields, f)
			}
		}
		for _, v := range def.EnumValues {
			if cur.EnumValues.ForName(v.Name) == nil {
				cur.EnumValues = append(cur.EnumValues, v)
			}
		}
		cur.Interfaces = appendMissing(cur.Interfaces, def.Interfaces)
		cur.Types = appendMissing(cur.Types, def.Types)
	}
	for _, def := range doc.Definitions {
		add(def)
	}
	for _, def := range doc.Extensions {
		add(def)
	}
	for _, d := range doc.Directives {
		idx.directives[d.Name] = d
	}
	return idx
}

func appendMissing(a, b []string) []string {
	for _, s := range b {
		if !contains(a, s) {
			a = append(a, s)
		}
	}
	return a
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func sortedTypeNames(m map[string]*ast.Definition) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func kindLabel(k ast.DefinitionKind) string {
	switch k {
	case ast.Object:
		return "object type"
	case ast.Interface:
		return "interface type"
	case ast.InputObject:
		return "input object type"
	case ast.Enum:
		return "enum"
	case ast.Union:
		return "union"
	default:
		return "scalar"
	}
}

type collector struct {
	changes []registry.SchemaChange
}

func (c *collector) add(t registry.ChangeType, crit registry.Criticality, path, reason, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	c.changes = append(c.changes, registry.SchemaChange{
		ID:          registry.ChangeFingerprint(t, path, msg),
		Type:        t,
		Path:        path,
		Message:     msg,
		Criticality: crit,
		Reason:      reason,
	})
}

// compare lists the changes that turn old into new, in a stable order.
func compare(old, nw schemaIndex) []registry.SchemaChange {
	c := &collector{}
	for _, name := range sortedTypeNames(old.types) {
		od := old.types[name]
		nd, ok := nw.types[name]
		if !ok {
			c.add(TypeRemoved, registry.CriticalityBreaking, name,
				"Removing a type is a breaking change. It is preferable to deprecate and remove all references to this type first.",
				"Type '%s' was removed", name)
			continue
		}
		if od.Kind != nd.Kind {
			c.add(TypeKindChanged, registry.CriticalityBreaking, name,
				"Changing the kind of a type is a breaking change because it can cause existing queries to error.",
				"'%s' kind changed from '%s' to '%s'", name, od.Kind, nd.Kind)
			continue
		}
		if strings.TrimSpace(od.Description) != strings.TrimSpace(nd.Description) {
			c.add(TypeDescriptionChanged, registry.CriticalitySafe, name, "", "Description of type '%s' changed", name)
		}
		switch od.Kind {
		case ast.Object, ast.Interface:
			compareFields(c, od, nd)
			compareInterfaces(c, od, nd)
		case ast.InputObject:
			compareInputFields(c, od, nd)
		case ast.Enum:
			compareEnum(c, od, nd)
		case ast.Union:
			compareUnion(c, od, nd)
		}
	}
	for _, name := range sortedTypeNames(nw.types) {
		if _, ok := old.types[name]; !ok {
			c.add(TypeAdded, registry.CriticalitySafe, name, "", "Type '%s' was added", name)
		}
	}
	compareDirectives(c, old, nw)
	return c.changes
}

func compareFields(c *collector, od, nd *ast.Definition) {
	for _, of := range od.Fields {
		path := od.Name + "." + of.Name
		nf := nd.Fields.ForName(of.Name)
		if nf == nil {
			reason := "Removing a field is a breaking change. It is preferable to deprecate the field before removing it."
			if of.Directives.ForName("deprecated") != nil {
				reason = "Removing a deprecated field is a breaking change. Before removing it, you may want to look at the field's usage to see the impact of removing the field."
			}
			c.add(FieldRemoved, registry.CriticalityBreaking, path, reason,
				"Field '%s' was removed from %s '%s'", of.Name, kindLabel(od.Kind), od.Name)
			continue
		}
		if of.Type.String() != nf.Type.String() {
			crit := registry.CriticalityBreaking
			reason := "Changing a field's type can break clients that select it."
			if safeOutputChange(of.Type, nf.Type) {
				crit, reason = registry.CriticalitySafe, ""
			}
			c.add(FieldTypeChanged, crit, path, reason,
				"Field '%s' changed type from '%s' to '%s'", path, of.Type.String(), nf.Type.String())
		}
		if strings.TrimSpace(of.Description) != strings.TrimSpace(nf.Description) {
			c.add(FieldDescriptionChanged, registry.CriticalitySafe, path, "", "Field '%s' description changed", path)
		}
		wasDeprecated := of.Directives.ForName("deprecated") != nil
		isDeprecated := nf.Directives.ForName("deprecated") != nil
		switch {
		case !wasDeprecated && isDeprecated:
			c.add(FieldDeprecationAdded, registry.CriticalitySafe, path, "", "Field '%s' is deprecated", path)
		case wasDeprecated && !isDeprecated:
			c.add(FieldDeprecationRemoved, registry.CriticalitySafe, path, "", "Field '%s' is no longer deprecated", path)
		}
		compareArguments(c, path, of, nf)
	}
	for _, nf := range nd.Fields {
		if od.Fields.ForName(nf.Name) == nil {
			c.add(FieldAdded, registry.CriticalitySafe, nd.Name+"."+nf.Name, "",
				"Field '%s' was added to %s '%s'", nf.Name, kindLabel(nd.Kind), nd.Name)
		}
	}
}

func valueString(v *ast.Value) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func compareArguments(c *collector, fieldPath string, of, nf *ast.FieldDefinition) {
	for _, oa := range of.Arguments {
		path := fieldPath + "." + oa.Name
		na := nf.Arguments.ForName(oa.Name)
		if na == nil {
			c.add(FieldArgumentRemoved, registry.CriticalityBreaking, path,
				"Removing a field argument is a breaking change because it will cause existing queries that use this argument to error.",
				"Argument '%s: %s' was removed from field '%s'", oa.Name, oa.Type.String(), fieldPath)
			continue
		}
		if oa.Type.String() != na.Type.String() {
			crit := registry.CriticalityBreaking
			reason := "Changing the type of a field's argument can cause existing queries that use this argument to error."
			if safeInputChange(oa.Type, na.Type) {
				crit, reason = registry.CriticalitySafe, ""
			}
			c.add(FieldArgumentTypeChanged, crit, path, reason,
				"Type for argument '%s' on field '%s' changed from '%s' to '%s'", oa.Name, fieldPath, oa.Type.String(), na.Type.String())
		}
		if ov, nv := valueString(oa.DefaultValue), valueString(na.DefaultValue); ov != nv {
			c.add(FieldArgumentDefaultChanged, registry.CriticalityDangerous, path,
				"Changing the default value for an argument may change the runtime behaviour of a field if it was never provided.",
				"Default value for argument '%s' on field '%s' changed from '%s' to '%s'", oa.Name, fieldPath, ov, nv)
		}
	}
	for _, na := range nf.Arguments {
		if of.Arguments.ForName(na.Name) != nil {
			continue
		}
		path := fieldPath + "." + na.Name
		if na.Type.NonNull && na.DefaultValue == nil {
			c.add(FieldArgumentAdded, registry.CriticalityBreaking, path,
				"Adding a required argument to an existing field is a breaking change because it will cause existing uses of this field to error.",
				"Argument '%s: %s' added to field '%s'", na.Name, na.Type.String(), fieldPath)
			continue
		}
		c.add(FieldArgumentAdded, registry.CriticalityDangerous, path, "",
			"Argument '%s: %s' added to field '%s'", na.Name, na.Type.String(), fieldPath)
	}
}

func compareInputFields(c *collector, od, nd *ast.Definition) {
	for _, of := range od.Fields {
		path := od.Name + "." + of.Name
		nf := nd.Fields.ForName(of.Name)
		if nf == nil {
			c.add(InputFieldRemoved, registry.CriticalityBreaking, path,
				"Removing an input field will cause existing queries that use this input field to error.",
				"Input field '%s' was removed from input object type '%s'", of.Name, od.Name)
			continue
		}
		if of.Type.String() != nf.Type.String() {
			crit := registry.CriticalityBreaking
			reason := "Changing the type of an input field can cause existing queries that use this field to error."
			if safeInputChange(of.Type, nf.Type) {
				crit, reason = registry.CriticalitySafe, ""
			}
			c.add(InputFieldTypeChanged, crit, path, reason,
				"Input field '%s' changed type from '%s' to '%s'", path, of.Type.String(), nf.Type.String())
		}
		if ov, nv := valueString(of.DefaultValue), valueString(nf.DefaultValue); ov != nv {
			c.add(InputFieldDefaultChanged, registry.CriticalityDangerous, path,
				"Changing the default value of an input field may change the runtime behaviour of operations that omit it.",
				"Input field '%s' default value changed from '%s' to '%s'", path, ov, nv)
		}
	}
	for _, nf := range nd.Fields {
		if od.Fields.ForName(nf.Name) != nil {
			continue
		}
		path := nd.Name + "." + nf.Name
		if nf.Type.NonNull && nf.DefaultValue == nil {
			c.add(InputFieldAdded, registry.CriticalityBreaking, path,
				"Adding a required input field to an existing input object type is a breaking change because it will cause existing uses of this input object type to error.",
				"Input field '%s' of type '%s' was added to input object type '%s'", nf.Name, nf.Type.String(), nd.Name)
			continue
		}
		c.add(InputFieldAdded, registry.CriticalityDangerous, path, "",
			"Input field '%s' of type '%s' was added to input object type '%s'", nf.Name, nf.Type.String(), nd.Name)
	}
}

func compareEnum(c *collector, od, nd *ast.Definition) {
	for _, ov := range od.EnumValues {
		if nd.EnumValues.ForName(ov.Name) == nil {
			c.add(EnumValueRemoved, registry.CriticalityBreaking, od.Name+"."+ov.Name,
				"Removing an enum value will cause existing queries that use this enum value to error.",
				"Enum value '%s' was removed from enum '%s'", ov.Name, od.Name)
		}
	}
	for _, nv := range nd.EnumValues {
		if od.EnumValues.ForName(nv.Name) == nil {
			c.add(EnumValueAdded, registry.CriticalityDangerous, nd.Name+"."+nv.Name,
				"Adding an enum value may break existing clients that were not programmed defensively against an unknown value.",
				"Enum value '%s' was added to enum '%s'", nv.Name, nd.Name)
		}
	}
}

func compareUnion(c *collector, od, nd *ast.Definition) {
	for _, m := range od.Types {
		if !contains(nd.Types, m) {
			c.add(UnionMemberRemoved, registry.CriticalityBreaking, od.Name,
				"Removing a union member from a union can cause existing queries that use this union member in a fragment spread to error.",
				"Member '%s' was removed from Union type '%s'", m, od.Name)
		}
	}
	for _, m := range nd.Types {
		if !contains(od.Types, m) {
			c.add(UnionMemberAdded, registry.CriticalityDangerous, nd.Name,
				"Adding a possible type to Unions may break existing clients that were not programming defensively against a new possible type.",
				"Member '%s' was added to Union type '%s'", m, nd.Name)
		}
	}
}

func compareInterfaces(c *collector, od, nd *ast.Definition) {
	for _, i := range od.Interfaces {
		if !contains(nd.Interfaces, i) {
			c.add(InterfaceRemoved, registry.CriticalityBreaking, od.Name,
				"Removing an interface from an object type can cause existing queries that use this in a fragment spread to error.",
				"'%s' object type no longer implements '%s' interface", od.Name, i)
		}
	}
	for _, i := range nd.Interfaces {
		if !contains(od.Interfaces, i) {
			c.add(InterfaceAdded, registry.CriticalityDangerous, nd.Name,
				"Adding an interface to an object type may break existing clients that were not programming defensively against a new possible type.",
				"'%s' object implements '%s' interface", nd.Name, i)
		}
	}
}

func compareDirectives(c *collector, old, nw schemaIndex) {
	names := make([]string, 0, len(old.directives))
	for n := range old.directives {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if _, ok := nw.directives[n]; !ok {
			c.add(DirectiveRemoved, registry.CriticalityBreaking, "@"+n, "", "Directive '%s' was removed", n)
		}
	}
	names = names[:0]
	for n := range nw.directives {
		if _, ok := old.directives[n]; !ok {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	for _, n := range names {
		c.add(DirectiveAdded, registry.CriticalitySafe, "@"+n, "", "Directive '%s' was added", n)
	}
}

func nullable(t *ast.Type) *ast.Type {
	c := *t
	c.NonNull = false
	return &c
}

// safeOutputChange reports a type change clients reading the field cannot notice: adding
// non-null wrappers.
func safeOutputChange(old, nw *ast.Type) bool {
	if nw.NonNull && !old.NonNull {
		return safeOutputChange(old, nullable(nw))
	}
	if old.NonNull != nw.NonNull || (old.Elem == nil) != (nw.Elem == nil) {
		return false
	}
	if old.Elem != nil {
		return safeOutputChange(old.Elem, nw.Elem)
	}
	return old.NamedType == nw.NamedType
}

// safeInputChange is the mirror for inputs: only removing non-null wrappers is safe.
func safeInputChange(old, nw *ast.Type) bool {
	if old.NonNull && !nw.NonNull {
		return safeInputChange(nullable(old), nw)
	}
	if old.NonNull != nw.NonNull || (old.Elem == nil) != (nw.Elem == nil) {
		return false
	}
	if old.Elem != nil {
		return safeInputChange(old.Elem, nw.Elem)
	}
	return old.NamedType == nw.NamedType
}
