package columnar

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

const dateLayout = "2006-01-02"

// ParseTimestamp parses the timestamp layouts accepted in text sources.
// Values without a zone are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// AppendText parses s according to the column type and appends it.
func (b *ColumnBuilder) AppendText(s string) error {
	switch b.field.Type {
	case ColumnTypeString:
		b.AppendString(s)
		return nil
	case ColumnTypeBinary:
		if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
			b.AppendBytes(raw)
		} else {
			b.AppendBytes([]byte(s))
		}
		return nil
	}

	s = strings.TrimSpace(s)
	var err error
	switch b.field.Type {
	case ColumnTypeBool:
		var v bool
		if v, err = strconv.ParseBool(s); err == nil {
			b.AppendBool(v)
		}
	case ColumnTypeInt32:
		var v int64
		if v, err = strconv.ParseInt(s, 10, 32); err == nil {
			b.AppendInt32(int32(v))
		}
	case ColumnTypeInt64:
		var v int64
		if v, err = strconv.ParseInt(s, 10, 64); err == nil {
			b.AppendInt64(v)
		}
	case ColumnTypeFloat32:
		var v float64
		if v, err = strconv.ParseFloat(s, 32); err == nil {
			b.AppendFloat32(float32(v))
		}
	case ColumnTypeFloat64:
		var v float64
		if v, err = strconv.ParseFloat(s, 64); err == nil {
			b.AppendFloat64(v)
		}
	case ColumnTypeTimestamp:
		var t time.Time
		if t, err = ParseTimestamp(s); err == nil {
			b.AppendTime(t)
		}
	case ColumnTypeDate32:
		var t time.Time
		if t, err = time.ParseInLocation(dateLayout, s, time.UTC); err != nil {
			t, err = ParseTimestamp(s)
		}
		if err == nil {
			b.AppendTime(t)
		}
	default:
		err = fmt.Errorf("unsupported type %s", b.field.Type)
	}
	if err != nil {
		return fmt.Errorf("column %q: cannot parse %q as %s", b.field.Name, s, b.field.Type)
	}
	return nil
}

// InferTextType returns the narrowest type that parses s. Integers widen to
// int64 so later rows cannot overflow a guess made from early rows.
func InferTextType(s string) ColumnType {
	s = strings.TrimSpace(s)
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ColumnTypeInt64
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return ColumnTypeFloat64
	}
	if strings.EqualFold(s, "true") || strings.EqualFold(s, "false") {
		return ColumnTypeBool
	}
	if _, err := time.ParseInLocation(dateLayout, s, time.UTC); err == nil {
		return ColumnTypeDate32
	}
	if _, err := ParseTimestamp(s); err == nil {
		return ColumnTypeTimestamp
	}
	return ColumnTypeString
}

// InferValueType maps a decoded Go value to a column type. It returns
// ColumnTypeInvalid for nil, which callers treat as "no evidence".
func InferValueType(v interface{}) ColumnType {
	switch x := v.(type) {
	case nil:
		return ColumnTypeInvalid
	case bool:
		return ColumnTypeBool
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return ColumnTypeInt64
	case float32, float64:
		return ColumnTypeFloat64
	case interface{ Int64() (int64, error) }:
		if _, err := x.Int64(); err == nil {
			return ColumnTypeInt64
		}
		return ColumnTypeFloat64
	case time.Time:
		return ColumnTypeTimestamp
	case []byte:
		return ColumnTypeBinary
	}
	return ColumnTypeString
}

// MergeTypes widens two observed types to one that holds both.
func MergeTypes(a, b ColumnType) ColumnType {
	switch {
	case a == b:
		return a
	case a == ColumnTypeInvalid:
		return b
	case b == ColumnTypeInvalid:
		return a
	case isNumeric(a) && isNumeric(b):
		return ColumnTypeFloat64
	case (a == ColumnTypeDate32 && b == ColumnTypeTimestamp) || (a == ColumnTypeTimestamp && b == ColumnTypeDate32):
		return ColumnTypeTimestamp
	}
	return ColumnTypeString
}

func isNumeric(t ColumnType) bool {
	switch t {
	case ColumnTypeInt32, ColumnTypeInt64, ColumnTypeFloat32, ColumnTypeFloat64:
		return true
	}
	return false
}

// InferRecordSchema infers a schema from decoded records. Fields are ordered
// by name; a field that is null in every record becomes a string.
func InferRecordSchema(records []map[string]interface{}) (*Schema, error) {
	types := make(map[string]ColumnType)
	for _, rec := range records {
		for k, v := range rec {
			types[k] = MergeTypes(types[k], InferValueType(v))
		}
	}
	if len(types) == 0 {
		return nil, fmt.Errorf("no fields found in %d records", len(records))
	}
	names := make([]string, 0, len(types))
	for k := range types {
		names = append(names, k)
	}
	sort.Strings(names)

	fields := make([]Field, len(names))
	for i, name := range names {
		t := types[name]
		if t == ColumnTypeInvalid {
			t = ColumnTypeString
		}
		fields[i] = Field{Name: name, Type: t}
	}
	return NewSchema(fields...)
}
