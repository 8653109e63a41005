package ckv

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forever-free1/TideIKV/config"
	"github.com/forever-free1/TideIKV/logging"
	"github.com/forever-free1/TideIKV/schema"
	"github.com/forever-free1/TideIKV/storage"
)

const usersSchema = `
document:
  - name: userid
    id: 0
    type: string
  - name: name
    id: 1
    type: string
  - name: age
    id: 2
    type: i32
`

func testConfig(dir string, opts ...config.Option) *config.StoreConfig {
	base := []config.Option{
		config.WithMountDirectory(dir),
		config.WithPrimaryKey("userid"),
		config.WithSchema(usersSchema),
		config.WithNumSegments(4),
	}
	return config.New(append(base, opts...)...)
}

func openTestIndex(t *testing.T, dir string, opts ...config.Option) *Index {
	t.Helper()
	idx, err := Open(testConfig(dir, opts...), logging.Noop())
	require.NoError(t, err)
	return idx
}

func TestIndex_UpsertAndGet(t *testing.T) {
	idx := openTestIndex(t, t.TempDir())
	defer idx.Close()

	require.NoError(t, idx.UpsertFieldValues(map[string][]byte{
		"userid": []byte("u1"),
		"name":   []byte("Alice"),
		"age":    {30, 0, 0, 0},
	}))

	got, err := idx.GetFieldValue([]byte("u1"), "name")
	require.NoError(t, err)
	assert.Equal(t, "Alice", string(got))

	got, err = idx.GetFieldValue([]byte("u1"), "userid")
	require.NoError(t, err)
	assert.Equal(t, "u1", string(got))

	_, err = idx.GetFieldValue([]byte("u2"), "name")
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)

	_, err = idx.GetFieldValue([]byte("u1"), "email")
	assert.ErrorIs(t, err, ErrFieldNotFound)

	_, err = idx.GetFieldValue(nil, "name")
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)
}

func TestIndex_UpsertRejectsBadDocuments(t *testing.T) {
	idx := openTestIndex(t, t.TempDir())
	defer idx.Close()

	err := idx.UpsertFieldValues(map[string][]byte{"name": []byte("x")})
	assert.ErrorIs(t, err, ErrMissingPrimaryKey)

	err = idx.UpsertFieldValues(map[string][]byte{"userid": make([]byte, MaxPrimaryKeyLen+1)})
	assert.ErrorIs(t, err, ErrPrimaryKeyTooLarge)

	err = idx.UpsertFieldValues(map[string][]byte{"userid": []byte("u1"), "email": []byte("x")})
	assert.ErrorIs(t, err, ErrFieldNotFound)

	// 定长字段长度不对时整个文档都不写入
	err = idx.UpsertFieldValues(map[string][]byte{"userid": []byte("u1"), "name": []byte("A"), "age": {1}})
	assert.Error(t, err)
	_, err = idx.GetFieldValue([]byte("u1"), "name")
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)
}

func TestIndex_Deletes(t *testing.T) {
	idx := openTestIndex(t, t.TempDir())
	defer idx.Close()

	for _, pk := range []string{"u1", "u10"} {
		require.NoError(t, idx.UpsertFieldValues(map[string][]byte{
			"userid": []byte(pk),
			"name":   []byte("name-" + pk),
		}))
	}

	require.NoError(t, idx.DeleteFieldValues([]byte("u1"), []string{"name"}))
	_, err := idx.GetFieldValue([]byte("u1"), "name")
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)
	_, err = idx.GetFieldValue([]byte("u1"), "userid")
	assert.NoError(t, err)

	assert.ErrorIs(t, idx.DeleteFieldValues([]byte("u1"), []string{"email"}), ErrFieldNotFound)

	n, err := idx.DeleteDocument([]byte("u1"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = idx.GetFieldValue([]byte("u1"), "userid")
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)

	// 主键 u10 以 u1 开头，但不属于同一个文档
	got, err := idx.GetFieldValue([]byte("u10"), "name")
	require.NoError(t, err)
	assert.Equal(t, "name-u10", string(got))
}

func TestIndex_Reopen(t *testing.T) {
	dir := t.TempDir()

	idx := openTestIndex(t, dir)
	require.NoError(t, idx.UpdateSchema([]schema.Field{{Name: "email", ID: 3, Type: schema.TypeString}}))
	for i := 0; i < 100; i++ {
		require.NoError(t, idx.UpsertFieldValues(map[string][]byte{
			"userid": []byte(fmt.Sprintf("u%d", i)),
			"email":  []byte(fmt.Sprintf("u%d@example.com", i)),
		}))
	}
	require.NoError(t, idx.FlushWrites())
	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close())

	_, err := os.Stat(filepath.Join(dir, SchemaFileName))
	require.NoError(t, err)

	// 重新打开时不再提供内联 schema，新增字段来自 schema.yaml
	idx, err = Open(config.New(
		config.WithMountDirectory(dir),
		config.WithPrimaryKey("userid"),
		config.WithNumSegments(4),
	), nil)
	require.NoError(t, err)
	defer idx.Close()

	got, err := idx.GetFieldValue([]byte("u42"), "email")
	require.NoError(t, err)
	assert.Equal(t, "u42@example.com", string(got))

	st := idx.Stats()
	assert.Equal(t, 4, st.Segments)
	assert.Equal(t, 200, st.Keys)
	assert.Equal(t, 4, st.Fields)
}

func TestIndex_FailedSchemaUpdateAddsNothing(t *testing.T) {
	dir := t.TempDir()

	idx := openTestIndex(t, dir)
	err := idx.UpdateSchema([]schema.Field{
		{Name: "x", ID: 7, Type: schema.TypeString},
		{Name: "userid", ID: 99, Type: schema.TypeString},
	})
	require.Error(t, err)

	// 失败的更新不能让 x 接受写入
	err = idx.UpsertFieldValues(map[string][]byte{
		"userid": []byte("u1"),
		"x":      []byte("v"),
	})
	assert.ErrorIs(t, err, ErrFieldNotFound)
	require.NoError(t, idx.Close())

	idx = openTestIndex(t, dir)
	defer idx.Close()

	_, err = idx.GetFieldValue([]byte("u1"), "x")
	assert.ErrorIs(t, err, ErrFieldNotFound)

	// ID 7 从未被持久化，可以分配给其他类型的字段
	require.NoError(t, idx.UpdateSchema([]schema.Field{{Name: "score", ID: 7, Type: schema.TypeF64}}))
	assert.Equal(t, 4, idx.Stats().Fields)
}

func TestIndex_CompactAfterDeletingEverything(t *testing.T) {
	dir := t.TempDir()
	idx := openTestIndex(t, dir)

	for i := 0; i < 200; i++ {
		require.NoError(t, idx.UpsertFieldValues(map[string][]byte{
			"userid": []byte(fmt.Sprintf("u%d", i)),
			"name":   []byte(fmt.Sprintf("name-%d", i)),
		}))
	}
	for i := 0; i < 200; i++ {
		n, err := idx.DeleteDocument([]byte(fmt.Sprintf("u%d", i)))
		require.NoError(t, err)
		require.Equal(t, 2, n)
	}

	st, err := idx.Compact()
	require.NoError(t, err)
	assert.Equal(t, 4, st.Segments)
	assert.Zero(t, st.LiveKeys)
	assert.Zero(t, st.BytesAfter)
	assert.Positive(t, st.BytesBefore)
	assert.Equal(t, 4, st.FilesAfter)

	for i := 0; i < 4; i++ {
		files, err := os.ReadDir(filepath.Join(dir, segmentDirName(i)))
		require.NoError(t, err)
		require.Len(t, files, 1)
		info, err := files[0].Info()
		require.NoError(t, err)
		assert.Zero(t, info.Size())
	}
	require.NoError(t, idx.Close())

	idx = openTestIndex(t, dir)
	defer idx.Close()
	assert.Zero(t, idx.Stats().Keys)
	_, err = idx.GetFieldValue([]byte("u7"), "name")
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)
}

func TestIndex_CompactKeepsLiveValues(t *testing.T) {
	idx := openTestIndex(t, t.TempDir())
	defer idx.Close()

	for round := 0; round < 3; round++ {
		for i := 0; i < 50; i++ {
			require.NoError(t, idx.UpsertFieldValues(map[string][]byte{
				"userid": []byte(fmt.Sprintf("u%d", i)),
				"name":   []byte(fmt.Sprintf("name-%d-%d", round, i)),
			}))
		}
	}

	st, err := idx.Compact()
	require.NoError(t, err)
	assert.Equal(t, 100, st.LiveKeys)
	assert.Less(t, st.BytesAfter, st.BytesBefore)

	for i := 0; i < 50; i++ {
		got, err := idx.GetFieldValue([]byte(fmt.Sprintf("u%d", i)), "name")
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("name-2-%d", i), string(got))
	}

	require.NoError(t, idx.Close())
	_, err = idx.Compact()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestIndex_DocumentsAndReset(t *testing.T) {
	idx := openTestIndex(t, t.TempDir())
	defer idx.Close()

	want := map[string]map[string][]byte{}
	for i := 0; i < 30; i++ {
		pk := fmt.Sprintf("u%d", i)
		doc := map[string][]byte{"userid": []byte(pk), "name": []byte("name-" + pk)}
		if i%3 == 0 {
			doc["age"] = []byte{byte(i), 0, 0, 0}
		}
		require.NoError(t, idx.UpsertFieldValues(doc))
		want[pk] = doc
	}
	_, err := idx.DeleteDocument([]byte("u29"))
	require.NoError(t, err)
	delete(want, "u29")

	got := map[string]map[string][]byte{}
	require.NoError(t, idx.Documents(func(doc map[string][]byte) error {
		got[string(doc["userid"])] = doc
		return nil
	}))
	assert.Equal(t, want, got)

	stop := errors.New("stop")
	assert.ErrorIs(t, idx.Documents(func(map[string][]byte) error { return stop }), stop)

	require.NoError(t, idx.Reset())
	assert.Zero(t, idx.Stats().Keys)
	assert.Equal(t, 3, idx.Stats().Fields)
	require.NoError(t, idx.Documents(func(map[string][]byte) error {
		t.Fatal("Reset 之后不应有文档")
		return nil
	}))
}

func TestIndex_SegmentMismatch(t *testing.T) {
	dir := t.TempDir()
	idx := openTestIndex(t, dir)
	require.NoError(t, idx.Close())

	_, err := Open(testConfig(dir, config.WithNumSegments(8)), nil)
	assert.ErrorIs(t, err, ErrSegmentMismatch)
}

func TestIndex_InvalidConfig(t *testing.T) {
	_, err := Open(config.New(config.WithPrimaryKey("userid")), nil)
	assert.ErrorIs(t, err, config.ErrMissingKey)

	// 主键字段不能与已声明的非 string 字段冲突
	_, err = Open(testConfig(t.TempDir(), config.WithPrimaryKey("age")), nil)
	assert.Error(t, err)
}

func TestIndex_ClosedLookup(t *testing.T) {
	idx := openTestIndex(t, t.TempDir())
	require.NoError(t, idx.Close())

	_, err := idx.GetFieldValue([]byte("u1"), "name")
	assert.True(t, errors.Is(err, ErrClosed))
	assert.ErrorIs(t, idx.FlushWrites(), ErrClosed)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, []byte{2, 'u', '1', 0, 5}, fieldKey([]byte("u1"), 5))
	assert.Equal(t, []byte{2, 'u', '1'}, docPrefix([]byte("u1")))

	pk, id, ok := parseFieldKey(fieldKey([]byte("u1"), 5))
	require.True(t, ok)
	assert.Equal(t, "u1", string(pk))
	assert.EqualValues(t, 5, id)

	for _, bad := range [][]byte{nil, {2, 'u'}, {2, 'u', '1', 0}, {0xff, 0xff, 0xff, 0xff, 0x0f}} {
		_, _, ok := parseFieldKey(bad)
		assert.False(t, ok, "%x", bad)
	}

	for i := 0; i < 100; i++ {
		s := segmentOf([]byte(fmt.Sprintf("k%d", i)), 7)
		assert.True(t, s >= 0 && s < 7)
	}
}
