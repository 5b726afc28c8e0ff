// Package columnar provides the internal columnar batch representation
package columnar

import (
	"fmt"
	"strings"
)

// ColumnType represents the logical type of a column
type ColumnType int

const (
	ColumnTypeInvalid ColumnType = iota
	ColumnTypeBool
	ColumnTypeInt32
	ColumnTypeInt64
	ColumnTypeFloat32
	ColumnTypeFloat64
	ColumnTypeString
	ColumnTypeBinary
	ColumnTypeTimestamp // int64 microseconds since the Unix epoch, UTC
	ColumnTypeDate32    // int32 days since the Unix epoch
)

var columnTypeNames = map[ColumnType]string{
	ColumnTypeBool:      "bool",
	ColumnTypeInt32:     "int32",
	ColumnTypeInt64:     "int64",
	ColumnTypeFloat32:   "float32",
	ColumnTypeFloat64:   "float64",
	ColumnTypeString:    "string",
	ColumnTypeBinary:    "binary",
	ColumnTypeTimestamp: "timestamp",
	ColumnTypeDate32:    "date32",
}

func (t ColumnType) String() string {
	if name, ok := columnTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("invalid(%d)", int(t))
}

// ParseColumnType resolves a type name as written in configuration.
func ParseColumnType(name string) (ColumnType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "bool", "boolean":
		return ColumnTypeBool, nil
	case "int32", "int":
		return ColumnTypeInt32, nil
	case "int64", "long", "bigint":
		return ColumnTypeInt64, nil
	case "float32", "float":
		return ColumnTypeFloat32, nil
	case "float64", "double":
		return ColumnTypeFloat64, nil
	case "string", "utf8", "text":
		return ColumnTypeString, nil
	case "binary", "bytes":
		return ColumnTypeBinary, nil
	case "timestamp", "datetime":
		return ColumnTypeTimestamp, nil
	case "date32", "date":
		return ColumnTypeDate32, nil
	}
	return ColumnTypeInvalid, fmt.Errorf("unknown column type %q", name)
}

// Valid reports whether t is a known type.
func (t ColumnType) Valid() bool {
	_, ok := columnTypeNames[t]
	return ok
}

// ByteWidth returns the width of one fixed-size value in bytes. Bool is
// bit-packed and variable width types have no fixed width; both return 0.
func (t ColumnType) ByteWidth() int {
	switch t {
	case ColumnTypeInt32, ColumnTypeFloat32, ColumnTypeDate32:
		return 4
	case ColumnTypeInt64, ColumnTypeFloat64, ColumnTypeTimestamp:
		return 8
	}
	return 0
}

// IsVarWidth reports whether values are addressed through an offsets buffer.
func (t ColumnType) IsVarWidth() bool {
	return t == ColumnTypeString || t == ColumnTypeBinary
}

// Field describes one named, typed column.
type Field struct {
	Name string
	Type ColumnType
}

func (f Field) String() string { return f.Name + ":" + f.Type.String() }

// Schema is the ordered list of fields shared by every batch of a source.
type Schema struct {
	Fields []Field
}

// NewSchema creates a schema, rejecting empty or duplicate names and invalid types.
func NewSchema(fields ...Field) (*Schema, error) {
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("field name cannot be empty")
		}
		if !f.Type.Valid() {
			return nil, fmt.Errorf("field %q has invalid type", f.Name)
		}
		if _, dup := seen[f.Name]; dup {
			return nil, fmt.Errorf("field %q declared twice", f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return &Schema{Fields: fields}, nil
}

// ParseSchema parses "name:type,name:type" as written in source options.
func ParseSchema(spec string) (*Schema, error) {
	var fields []Field
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, typ, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("schema entry %q is not name:type", part)
		}
		t, err := ParseColumnType(typ)
		if err != nil {
			return nil, err
		}
		fields = append(fields, Field{Name: strings.TrimSpace(name), Type: t})
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("schema is empty")
	}
	return NewSchema(fields...)
}

// Len returns the number of fields.
func (s *Schema) Len() int { return len(s.Fields) }

// Index returns the position of the named field or -1.
func (s *Schema) Index(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Equal reports whether both schemas have the same names and types in order.
func (s *Schema) Equal(other *Schema) bool {
	if s == nil || other == nil {
		return s == other
	}
	if len(s.Fields) != len(other.Fields) {
		return false
	}
	for i := range s.Fields {
		if s.Fields[i] != other.Fields[i] {
			return false
		}
	}
	return true
}

// Project returns the sub-schema for columns, in the requested order, and the
// source index of every projected field. An empty projection keeps everything.
func (s *Schema) Project(columns []string) (*Schema, []int, error) {
	if len(columns) == 0 {
		idx := make([]int, len(s.Fields))
		for i := range idx {
			idx[i] = i
		}
		return s, idx, nil
	}
	fields := make([]Field, 0, len(columns))
	idx := make([]int, 0, len(columns))
	for _, name := range columns {
		i := s.Index(name)
		if i < 0 {
			return nil, nil, fmt.Errorf("column %q not found", name)
		}
		fields = append(fields, s.Fields[i])
		idx = append(idx, i)
	}
	return &Schema{Fields: fields}, idx, nil
}

func (s *Schema) String() string {
	parts := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		parts[i] = f.String()
	}
	return strings.Join(parts, ",")
}
