package flightingest

import (
	"testing"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
	"github.com/apache/arrow/go/v15/arrow/memory"
	"github.com/stretchr/testify/require"
)

func buildTestRecord(t *testing.T) arrow.Record {
	pool := memory.NewGoAllocator()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "timestamp", Type: arrow.PrimitiveTypes.Int64},
		{Name: "value", Type: arrow.PrimitiveTypes.Float64},
		{Name: "host", Type: arrow.BinaryTypes.String},
	}, nil)

	tsBuilder := array.NewInt64Builder(pool)
	defer tsBuilder.Release()
	tsBuilder.AppendValues([]int64{0, 1, 2}, nil)

	valBuilder := array.NewFloat64Builder(pool)
	defer valBuilder.Release()
	valBuilder.AppendValues([]float64{1, 2, 3}, nil)

	hostBuilder := array.NewStringBuilder(pool)
	defer hostBuilder.Release()
	hostBuilder.AppendValues([]string{"a", "a", "b"}, nil)

	tsArr := tsBuilder.NewArray()
	defer tsArr.Release()
	valArr := valBuilder.NewArray()
	defer valArr.Release()
	hostArr := hostBuilder.NewArray()
	defer hostArr.Release()

	return array.NewRecord(schema, []arrow.Array{tsArr, valArr, hostArr}, 3)
}

func TestResolveColumnsFindsRequiredAndTagColumns(t *testing.T) {
	rec := buildTestRecord(t)
	defer rec.Release()

	tsCol, valCol, tagCols, mapTagCol, err := resolveColumns(rec)
	require.NoError(t, err)
	require.Equal(t, int64(0), tsCol.Value(0))
	require.Equal(t, 1.0, valCol.Value(0))
	require.Contains(t, tagCols, "host")
	require.Nil(t, mapTagCol)
}

func TestResolveColumnsRejectsMissingRequiredColumns(t *testing.T) {
	pool := memory.NewGoAllocator()
	schema := arrow.NewSchema([]arrow.Field{{Name: "host", Type: arrow.BinaryTypes.String}}, nil)
	b := array.NewStringBuilder(pool)
	defer b.Release()
	b.AppendValues([]string{"a"}, nil)
	arr := b.NewArray()
	defer arr.Release()
	rec := array.NewRecord(schema, []arrow.Array{arr}, 1)
	defer rec.Release()

	_, _, _, _, err := resolveColumns(rec)
	require.Error(t, err)
}

func TestRowTagsReadsStringColumns(t *testing.T) {
	rec := buildTestRecord(t)
	defer rec.Release()
	_, _, tagCols, mapTagCol, err := resolveColumns(rec)
	require.NoError(t, err)

	tags := rowTags(mapTagCol, tagCols, 0)
	require.Equal(t, "a", tags["host"])
}

func buildMapTagRecord(t *testing.T) arrow.Record {
	pool := memory.NewGoAllocator()
	mapType := arrow.MapOf(arrow.BinaryTypes.String, arrow.BinaryTypes.String)
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "timestamp", Type: arrow.PrimitiveTypes.Int64},
		{Name: "value", Type: arrow.PrimitiveTypes.Float64},
		{Name: "tags", Type: mapType},
	}, nil)

	tsBuilder := array.NewInt64Builder(pool)
	defer tsBuilder.Release()
	tsBuilder.AppendValues([]int64{0, 1}, nil)

	valBuilder := array.NewFloat64Builder(pool)
	defer valBuilder.Release()
	valBuilder.AppendValues([]float64{1, 2}, nil)

	mapBuilder := array.NewMapBuilder(pool, arrow.BinaryTypes.String, arrow.BinaryTypes.String, false)
	defer mapBuilder.Release()
	keyBuilder := mapBuilder.KeyBuilder().(*array.StringBuilder)
	itemBuilder := mapBuilder.ItemBuilder().(*array.StringBuilder)

	mapBuilder.Append(true)
	keyBuilder.Append("__name__")
	itemBuilder.Append("cpu")
	keyBuilder.Append("host")
	itemBuilder.Append("a")

	mapBuilder.Append(true)
	keyBuilder.Append("__name__")
	itemBuilder.Append("cpu")
	keyBuilder.Append("host")
	itemBuilder.Append("b")

	tsArr := tsBuilder.NewArray()
	defer tsArr.Release()
	valArr := valBuilder.NewArray()
	defer valArr.Release()
	mapArr := mapBuilder.NewArray()
	defer mapArr.Release()

	return array.NewRecord(schema, []arrow.Array{tsArr, valArr, mapArr}, 2)
}

func TestResolveColumnsExtractsMapTagColumn(t *testing.T) {
	rec := buildMapTagRecord(t)
	defer rec.Release()

	_, _, tagCols, mapTagCol, err := resolveColumns(rec)
	require.NoError(t, err)
	require.Empty(t, tagCols)
	require.NotNil(t, mapTagCol)

	tags0 := rowTags(mapTagCol, tagCols, 0)
	require.Equal(t, "cpu", tags0["__name__"])
	require.Equal(t, "a", tags0["host"])

	tags1 := rowTags(mapTagCol, tagCols, 1)
	require.Equal(t, "b", tags1["host"])
}

func TestCanonicalTagKeyGroupsIdenticalTags(t *testing.T) {
	a := canonicalTagKey(map[string]string{"__name__": "cpu", "host": "a"})
	b := canonicalTagKey(map[string]string{"host": "a", "__name__": "cpu"})
	require.Equal(t, a, b)

	c := canonicalTagKey(map[string]string{"__name__": "cpu", "host": "b"})
	require.NotEqual(t, a, c)
}
