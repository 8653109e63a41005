package schema

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `
document:
  - name: profile
    id: 2
    type: bytes
  - name: firstname
    id: 0
    type: string
  - name: age
    id: 1
    type: i32
`

func TestLoadYAML(t *testing.T) {
	fields, err := LoadYAML([]byte(testSchema))
	require.NoError(t, err)
	require.Len(t, fields, 3)

	assert.Equal(t, Field{Name: "firstname", ID: 0, Type: TypeString}, fields[0])
	assert.Equal(t, Field{Name: "age", ID: 1, Type: TypeI32}, fields[1])
	assert.Equal(t, Field{Name: "profile", ID: 2, Type: TypeBytes}, fields[2])

	n, fixed := fields[1].ValueLen()
	assert.True(t, fixed)
	assert.Equal(t, 4, n)
	_, fixed = fields[0].ValueLen()
	assert.False(t, fixed)
}

func TestLoadYAML_Errors(t *testing.T) {
	cases := map[string]string{
		"missing id":   "document:\n  - name: a\n    type: i32\n",
		"missing type": "document:\n  - name: a\n    id: 0\n",
		"missing name": "document:\n  - id: 0\n    type: i32\n",
		"bad type":     "document:\n  - name: a\n    id: 0\n    type: decimal\n",
		"id range":     "document:\n  - name: a\n    id: 70000\n    type: i32\n",
		"not yaml":     "document: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestField_Validate(t *testing.T) {
	age := Field{Name: "age", ID: 1, Type: TypeI32}
	assert.NoError(t, age.Validate([]byte{1, 0, 0, 0}))
	assert.Error(t, age.Validate([]byte{1}))

	name := Field{Name: "name", ID: 0, Type: TypeString}
	assert.NoError(t, name.Validate(nil))
}

func TestTable_UpdateAndPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")

	table, err := NewTable(path, []Field{{Name: "userid", ID: 0, Type: TypeString}})
	require.NoError(t, err)

	require.NoError(t, table.Update([]Field{
		{Name: "userid", ID: 0, Type: TypeString},
		{Name: "name", ID: 1, Type: TypeString},
	}))
	f, ok := table.Lookup("name")
	require.True(t, ok)
	assert.EqualValues(t, 1, f.ID)

	// 冲突的定义被拒绝
	assert.Error(t, table.Update([]Field{{Name: "name", ID: 5, Type: TypeString}}))
	assert.Error(t, table.Update([]Field{{Name: "other", ID: 1, Type: TypeBytes}}))

	loaded, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, table.Fields(), loaded)
}

func TestTable_UpdateIsAllOrNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")

	table, err := NewTable(path, []Field{{Name: "id", ID: 0, Type: TypeString}})
	require.NoError(t, err)

	// 第二个字段冲突，第一个字段也不能生效
	err = table.Update([]Field{
		{Name: "x", ID: 7, Type: TypeString},
		{Name: "id", ID: 99, Type: TypeString},
	})
	require.Error(t, err)
	_, ok := table.Lookup("x")
	assert.False(t, ok)
	assert.Equal(t, 1, table.Len())

	// 同一批次内 ID 重复
	err = table.Update([]Field{
		{Name: "a", ID: 3, Type: TypeString},
		{Name: "b", ID: 3, Type: TypeI32},
	})
	require.Error(t, err)
	_, ok = table.Lookup("a")
	assert.False(t, ok)

	// 被拒绝的 ID 之后仍可分配给其他字段
	require.NoError(t, table.Update([]Field{{Name: "y", ID: 7, Type: TypeI64}}))
	loaded, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, table.Fields(), loaded)
}

func TestTable_PersistFailureLeavesTableUnchanged(t *testing.T) {
	// 父目录不存在，写回必然失败
	path := filepath.Join(t.TempDir(), "missing", "schema.yaml")

	table, err := NewTable(path, []Field{{Name: "id", ID: 0, Type: TypeString}})
	require.NoError(t, err)

	require.Error(t, table.Update([]Field{{Name: "name", ID: 1, Type: TypeString}}))
	_, ok := table.Lookup("name")
	assert.False(t, ok)

	_, err = table.Ensure("email", TypeString)
	require.Error(t, err)
	_, ok = table.Lookup("email")
	assert.False(t, ok)
	assert.Equal(t, 1, table.Len())
}

func TestTable_Ensure(t *testing.T) {
	table, err := NewTable("", []Field{{Name: "a", ID: 0, Type: TypeI32}, {Name: "b", ID: 2, Type: TypeI32}})
	require.NoError(t, err)

	f, err := table.Ensure("c", TypeBytes)
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.ID)

	again, err := table.Ensure("c", TypeBytes)
	require.NoError(t, err)
	assert.Equal(t, f, again)

	_, err = table.Ensure("a", TypeString)
	assert.Error(t, err)
	assert.Equal(t, 3, table.Len())
}

func TestReadFile_Missing(t *testing.T) {
	fields, err := ReadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Empty(t, fields)
}
