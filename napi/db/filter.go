package db

import (
	"fmt"
	"net/netip"
	"strings"
)

// Filter is a boolean tree over a bucket's indexed fields.
type Filter interface {
	compile(schema *Schema) (string, []any, error)
}

type cmpFilter struct {
	field string
	op    string
	value any
}

type presentFilter struct {
	field string
}

type containsFilter struct {
	field string
	value any
}

type logicalFilter struct {
	op      string
	filters []Filter
}

type notFilter struct {
	filter Filter
}

// Eq matches objects whose field equals value.
func Eq(field string, value any) Filter {
	return &cmpFilter{field: field, op: "=", value: value}
}

// Gte matches objects whose field is >= value. Only meaningful on number and
// ip indexes.
func Gte(field string, value any) Filter {
	return &cmpFilter{field: field, op: ">=", value: value}
}

// Lte matches objects whose field is <= value.
func Lte(field string, value any) Filter {
	return &cmpFilter{field: field, op: "<=", value: value}
}

// Present matches objects that have any value for the field.
func Present(field string) Filter {
	return &presentFilter{field: field}
}

// Contains matches objects whose array field contains value.
func Contains(field string, value any) Filter {
	return &containsFilter{field: field, value: value}
}

// And combines filters conjunctively.
func And(filters ...Filter) Filter {
	return &logicalFilter{op: "AND", filters: filters}
}

// Or combines filters disjunctively.
func Or(filters ...Filter) Filter {
	return &logicalFilter{op: "OR", filters: filters}
}

// Not negates a filter.
func Not(f Filter) Filter {
	return &notFilter{filter: f}
}

func schemaIndex(schema *Schema, field string) (Index, string, error) {
	if field == "_key" {
		return Index{Type: IndexString}, "_key", nil
	}

	idx, ok := schema.Indexes[field]
	if !ok {
		return Index{}, "", fmt.Errorf("Cannot filter on unindexed field %q in bucket %q", field, schema.Name)
	}

	return idx, schema.column(field), nil
}

func (f *cmpFilter) compile(schema *Schema) (string, []any, error) {
	idx, col, err := schemaIndex(schema, f.field)
	if err != nil {
		return "", nil, err
	}

	encoded, err := encodeIndexValue(idx, f.value)
	if err != nil {
		return "", nil, err
	}

	return fmt.Sprintf("%s %s ?", col, f.op), []any{encoded}, nil
}

func (f *presentFilter) compile(schema *Schema) (string, []any, error) {
	_, col, err := schemaIndex(schema, f.field)
	if err != nil {
		return "", nil, err
	}

	return col + " IS NOT NULL", nil, nil
}

func (f *containsFilter) compile(schema *Schema) (string, []any, error) {
	idx, col, err := schemaIndex(schema, f.field)
	if err != nil {
		return "", nil, err
	}

	var element string
	switch idx.Type {
	case IndexArrayString:
		s, ok := f.value.(string)
		if !ok {
			return "", nil, fmt.Errorf("expected string, got %T", f.value)
		}

		element = s
	case IndexArrayIP:
		switch v := f.value.(type) {
		case netip.Addr:
			element = EncodeIP(v)
		case string:
			addr, err := netip.ParseAddr(v)
			if err != nil {
				return "", nil, err
			}

			element = EncodeIP(addr.Unmap())
		default:
			return "", nil, fmt.Errorf("expected IP address, got %T", f.value)
		}
	default:
		return "", nil, fmt.Errorf("field %q is not an array index", f.field)
	}

	return col + " LIKE ?", []any{"%," + element + ",%"}, nil
}

func (f *logicalFilter) compile(schema *Schema) (string, []any, error) {
	if len(f.filters) == 0 {
		return "1 = 1", nil, nil
	}

	clauses := make([]string, 0, len(f.filters))
	args := []any{}

	for _, sub := range f.filters {
		clause, subArgs, err := sub.compile(schema)
		if err != nil {
			return "", nil, err
		}

		clauses = append(clauses, "("+clause+")")
		args = append(args, subArgs...)
	}

	return strings.Join(clauses, " "+f.op+" "), args, nil
}

func (f *notFilter) compile(schema *Schema) (string, []any, error) {
	clause, args, err := f.filter.compile(schema)
	if err != nil {
		return "", nil, err
	}

	return "NOT (" + clause + ")", args, nil
}
