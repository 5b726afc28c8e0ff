package columnar

import (
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema(t *testing.T) *Schema {
	t.Helper()
	schema, err := ParseSchema("id:int64,name:string,score:float64,active:bool,seen:timestamp,day:date32")
	require.NoError(t, err)
	return schema
}

func TestParseSchema(t *testing.T) {
	schema := testSchema(t)
	assert.Equal(t, 6, schema.Len())
	assert.Equal(t, 1, schema.Index("name"))
	assert.Equal(t, -1, schema.Index("missing"))
	assert.Equal(t, "id:int64,name:string,score:float64,active:bool,seen:timestamp,day:date32", schema.String())

	_, err := ParseSchema("id:int64,id:string")
	assert.Error(t, err)
	_, err = ParseSchema("id:decimal")
	assert.Error(t, err)
	_, err = ParseSchema("id")
	assert.Error(t, err)
	_, err = ParseSchema("")
	assert.Error(t, err)
}

func TestSchemaProject(t *testing.T) {
	schema := testSchema(t)

	sub, idx, err := schema.Project([]string{"score", "id"})
	require.NoError(t, err)
	assert.Equal(t, "score:float64,id:int64", sub.String())
	assert.Equal(t, []int{2, 0}, idx)

	all, idx, err := schema.Project(nil)
	require.NoError(t, err)
	assert.True(t, all.Equal(schema))
	assert.Len(t, idx, 6)

	_, _, err = schema.Project([]string{"nope"})
	assert.Error(t, err)
}

func TestBatchBuilder(t *testing.T) {
	schema := testSchema(t)
	bb := NewBatchBuilder(schema, 4)
	seen := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	require.NoError(t, bb.AppendRow([]interface{}{int64(1), "alice", 9.5, true, seen, "2024-03-01"}))
	require.NoError(t, bb.AppendRow([]interface{}{2, nil, "7.25", false, "2024-03-02T08:00:00Z", seen}))
	require.NoError(t, bb.AppendRow([]interface{}{int32(3), "carol", nil, nil, nil, nil}))
	assert.Equal(t, 3, bb.Len())

	batch, err := bb.NewBatch()
	require.NoError(t, err)
	defer batch.Release()

	assert.Equal(t, LayoutVersion, batch.Layout())
	assert.Equal(t, 3, batch.NumRows())
	assert.Equal(t, 6, batch.NumCols())
	assert.Equal(t, 0, bb.Len())

	assert.Equal(t, []interface{}{int64(1), "alice", 9.5, true, seen, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}, batch.Row(0))
	assert.Equal(t, 7.25, batch.Column(2).Float64(1))
	assert.True(t, batch.Column(1).IsNull(1))
	assert.Equal(t, 1, batch.Column(1).NullN())
	assert.Equal(t, 0, batch.Column(0).NullN())
	assert.Nil(t, batch.Column(0).Validity())
	assert.Equal(t, "carol", batch.ColumnByName("name").String(2))
	assert.Nil(t, batch.ColumnByName("missing"))
}

func TestBatchBuilderRejectsBadRow(t *testing.T) {
	schema, err := ParseSchema("name:string,id:int64")
	require.NoError(t, err)
	bb := NewBatchBuilder(schema, 2)

	require.NoError(t, bb.AppendRow([]interface{}{"a", int64(1)}))
	assert.Error(t, bb.AppendRow([]interface{}{"b", "x"}))
	assert.Error(t, bb.AppendRow([]interface{}{"c"}))
	assert.Equal(t, 1, bb.Len())

	batch, err := bb.NewBatch()
	require.NoError(t, err)
	defer batch.Release()
	assert.Equal(t, 1, batch.NumRows())
	assert.Equal(t, 1, batch.Column(0).Len())
	assert.Equal(t, "a", batch.Column(0).String(0))
}

func TestNewBatchValidation(t *testing.T) {
	schema, err := ParseSchema("a:int64,b:int64")
	require.NoError(t, err)

	short := NewColumnBuilder(Field{Name: "a", Type: ColumnTypeInt64}, 1)
	short.AppendInt64(1)
	long := NewColumnBuilder(Field{Name: "b", Type: ColumnTypeInt64}, 2)
	long.AppendInt64(1)
	long.AppendInt64(2)

	_, err = NewBatch(schema, []*Column{short.NewColumn(), long.NewColumn()})
	assert.Error(t, err)

	_, err = NewBatch(schema, nil)
	assert.Error(t, err)

	wrong := NewColumnBuilder(Field{Name: "b", Type: ColumnTypeString}, 1)
	wrong.AppendString("x")
	a := NewColumnBuilder(Field{Name: "a", Type: ColumnTypeInt64}, 1)
	a.AppendInt64(1)
	_, err = NewBatch(schema, []*Column{a.NewColumn(), wrong.NewColumn()})
	assert.Error(t, err)
}

func TestBatchReleaseDropsBuffers(t *testing.T) {
	released := 0
	values := NewBufferWithRelease(arrow.Int64Traits.CastToBytes([]int64{1, 2, 3}), func() { released++ })
	col := NewColumn("v", ColumnTypeInt64, 3, 0, 0, nil, values, nil)
	schema, err := NewSchema(col.Field())
	require.NoError(t, err)
	batch, err := NewBatch(schema, []*Column{col})
	require.NoError(t, err)

	batch.Retain()
	batch.Release()
	assert.Equal(t, 0, released)

	batch.Release()
	assert.Equal(t, 1, released)
	assert.Panics(t, func() { batch.Release() })
}

func TestBatchSlice(t *testing.T) {
	schema, err := ParseSchema("v:int64,s:string")
	require.NoError(t, err)
	bb := NewBatchBuilder(schema, 5)
	for i := 0; i < 5; i++ {
		var s interface{} = string(rune('a' + i))
		if i == 3 {
			s = nil
		}
		require.NoError(t, bb.AppendRow([]interface{}{int64(i), s}))
	}
	batch, err := bb.NewBatch()
	require.NoError(t, err)

	sliced, err := batch.Slice(2, 5)
	require.NoError(t, err)
	batch.Release()

	assert.Equal(t, 3, sliced.NumRows())
	assert.Equal(t, int64(2), sliced.Column(0).Int64(0))
	assert.Equal(t, "c", sliced.Column(1).String(0))
	assert.True(t, sliced.Column(1).IsNull(1))
	assert.Equal(t, 1, sliced.Column(1).NullN())
	assert.Equal(t, 2, sliced.Column(0).Offset())
	sliced.Release()

	_, err = batch.Slice(3, 9)
	assert.Error(t, err)
}

func TestInferTextType(t *testing.T) {
	tests := []struct {
		in   string
		want ColumnType
	}{
		{"42", ColumnTypeInt64},
		{"-3.5", ColumnTypeFloat64},
		{"true", ColumnTypeBool},
		{"F", ColumnTypeString},
		{"2024-01-02", ColumnTypeDate32},
		{"2024-01-02 10:11:12", ColumnTypeTimestamp},
		{"hello", ColumnTypeString},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, InferTextType(tt.in))
		})
	}
}

func TestMergeTypes(t *testing.T) {
	assert.Equal(t, ColumnTypeInt64, MergeTypes(ColumnTypeInvalid, ColumnTypeInt64))
	assert.Equal(t, ColumnTypeFloat64, MergeTypes(ColumnTypeInt64, ColumnTypeFloat64))
	assert.Equal(t, ColumnTypeTimestamp, MergeTypes(ColumnTypeDate32, ColumnTypeTimestamp))
	assert.Equal(t, ColumnTypeString, MergeTypes(ColumnTypeBool, ColumnTypeInt64))
}

func TestFromArrowSharesBuffers(t *testing.T) {
	pool := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer pool.AssertSize(t, 0)

	ib := array.NewInt64Builder(pool)
	ib.AppendValues([]int64{10, 20, 30}, []bool{true, false, true})
	ints := ib.NewInt64Array()
	ib.Release()

	sb := array.NewStringBuilder(pool)
	sb.AppendValues([]string{"x", "y", "z"}, nil)
	strs := sb.NewStringArray()
	sb.Release()

	i16b := array.NewInt16Builder(pool)
	i16b.AppendValues([]int16{1, 2, 3}, nil)
	smalls := i16b.NewInt16Array()
	i16b.Release()

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "n", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "s", Type: arrow.BinaryTypes.String},
		{Name: "small", Type: arrow.PrimitiveTypes.Int16},
	}, nil)
	rec := array.NewRecord(schema, []arrow.Array{ints, strs, smalls}, 3)
	ints.Release()
	strs.Release()
	smalls.Release()

	batch, err := FromArrow(rec)
	require.NoError(t, err)

	assert.True(t, SameStorage(rec.Column(0).Data().Buffers()[1].Bytes(), batch.Column(0).Values().Bytes()))
	assert.True(t, SameStorage(rec.Column(1).Data().Buffers()[2].Bytes(), batch.Column(1).Values().Bytes()))
	assert.Equal(t, ColumnTypeInt32, batch.Column(2).Type())
	assert.Equal(t, int32(2), batch.Column(2).Int32(1))

	rec.Release()
	assert.True(t, batch.Column(0).IsNull(1))
	assert.Equal(t, int64(30), batch.Column(0).Int64(2))
	assert.Equal(t, "z", batch.Column(1).String(2))
	batch.Release()
}
