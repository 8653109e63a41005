package main

import (
	"os"
	"path/filepath"
	"testing"

	flag "github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/forever-free1/TideIKV/buffer"
	"github.com/forever-free1/TideIKV/ckv"
	"github.com/forever-free1/TideIKV/config"
	"github.com/forever-free1/TideIKV/ffi"
	"github.com/forever-free1/TideIKV/handle"
	"github.com/forever-free1/TideIKV/logging"
	"github.com/forever-free1/TideIKV/schema"
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
  - name: avatar
    id: 3
    type: bytes
`

func parseStoreFlags(t *testing.T, args ...string) *storeFlags {
	t.Helper()
	var sf storeFlags
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	sf.register(fs)
	require.NoError(t, fs.Parse(args))
	return &sf
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestStoreFlags_Blob(t *testing.T) {
	schemaFile := writeFile(t, "schema.yaml", usersSchema)
	mount := t.TempDir()

	sf := parseStoreFlags(t,
		"-m", mount,
		"-p", "userid",
		"--schema", schemaFile,
		"--num-segments", "4",
		"--compression", "zstd",
	)
	blob, err := sf.blob()
	require.NoError(t, err)

	cfg, err := config.Decode(blob)
	require.NoError(t, err)
	assert.Equal(t, mount, cfg.MountDirectory())
	assert.Equal(t, "userid", cfg.PrimaryKey())
	assert.Equal(t, 4, cfg.NumSegments())
	assert.Equal(t, "zstd", cfg.Compression())
	assert.Equal(t, usersSchema, string(cfg.Schema()))
	assert.Empty(t, cfg.LogFile())
}

func TestStoreFlags_BlobErrors(t *testing.T) {
	_, err := parseStoreFlags(t, "-p", "userid").blob()
	assert.ErrorIs(t, err, config.ErrMissingKey)

	_, err = parseStoreFlags(t, "-m", t.TempDir(), "-p", "userid", "--compression", "lz4").blob()
	assert.Error(t, err)

	_, err = parseStoreFlags(t, "-m", t.TempDir(), "-p", "userid", "--schema", "/nonexistent/schema.yaml").blob()
	assert.Error(t, err)
}

// openBuildTarget 打开一个空索引，返回 surface、句柄和挂载目录中的 schema
func openBuildTarget(t *testing.T) (*ffi.Surface, handle.Handle, string, []schema.Field) {
	t.Helper()
	mount := t.TempDir()
	sf := parseStoreFlags(t, "-m", mount, "-p", "userid", "--schema", writeFile(t, "schema.yaml", usersSchema), "--num-segments", "2")
	blob, err := sf.blob()
	require.NoError(t, err)

	s := ffi.New(ffi.WithLogger(logging.Noop()))
	h := s.OpenIndex(blob)
	require.NotEqual(t, handle.Invalid, h)
	t.Cleanup(func() { s.CloseIndex(h) })

	fields, err := schema.ReadFile(filepath.Join(mount, ckv.SchemaFileName))
	require.NoError(t, err)
	return s, h, mount, fields
}

func TestLoadDocuments(t *testing.T) {
	s, h, mount, fields := openBuildTarget(t)

	var docs []map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(`
- userid: u1
  name: Alice
  age: 30
- userid: 123
  name: Bob
  age: "41"
`), &docs))

	n, err := loadDocuments(s, h, fields, docs)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, s.FlushWrites(h))

	lookup := func(pk, field string) []byte {
		b := s.GetFieldValue(h, []byte(pk), field)
		require.True(t, b.IsPresent(), "%s/%s: %s", pk, field, buffer.StatusText(b.Status()))
		defer s.FreeBytesBuffer(b)
		return append([]byte(nil), buffer.Bytes(b)...)
	}

	assert.Equal(t, "Alice", string(lookup("u1", "name")))
	// YAML 中的数字主键按字符串写入
	assert.Equal(t, "Bob", string(lookup("123", "name")))
	assert.Equal(t, "123", string(lookup("123", "userid")))

	assert.Equal(t, "30", formatValue(mount, "age", lookup("u1", "age")))
	assert.Equal(t, "41", formatValue(mount, "age", lookup("123", "age")))
	assert.Equal(t, "Alice", formatValue(mount, "name", lookup("u1", "name")))
}

func TestLoadDocuments_Errors(t *testing.T) {
	s, h, _, fields := openBuildTarget(t)

	n, err := loadDocuments(s, h, fields, []map[string]any{
		{"userid": "u1", "name": "Alice"},
		{"userid": "u2", "email": "bob@example.com"},
	})
	assert.ErrorContains(t, err, `field "email" is not in the schema`)
	assert.Equal(t, 1, n)

	_, err = loadDocuments(s, h, fields, []map[string]any{{"userid": "u3", "age": "old"}})
	assert.Error(t, err)

	// 缺少主键的文档被索引拒绝
	_, err = loadDocuments(s, h, fields, []map[string]any{{"name": "nobody"}})
	assert.Error(t, err)
}

func TestFormatValue(t *testing.T) {
	_, _, mount, _ := openBuildTarget(t)

	assert.Equal(t, "0102ff", formatValue(mount, "avatar", []byte{1, 2, 0xff}))
	// 不在 schema 中的字段原样输出
	assert.Equal(t, "raw", formatValue(mount, "missing", []byte("raw")))
	// 长度不符合类型时原样输出
	assert.Equal(t, "ab", formatValue(mount, "age", []byte("ab")))
	// 挂载目录没有 schema 时原样输出
	assert.Equal(t, "x", formatValue(t.TempDir(), "age", []byte("x")))
}

func TestRunBuild(t *testing.T) {
	mount := t.TempDir()
	schemaFile := writeFile(t, "schema.yaml", usersSchema)
	docsFile := writeFile(t, "docs.yaml", "- userid: u1\n  name: Alice\n")

	assert.Equal(t, ExitOK, runBuild([]string{"-m", mount, "-p", "userid", "--schema", schemaFile, "-d", docsFile, "--num-segments", "2"}))
	assert.Equal(t, ExitOK, runBuild([]string{"-m", mount, "-p", "userid", "-d", docsFile, "--num-segments", "2", "--compact"}))
	assert.Equal(t, ExitUsage, runBuild([]string{"-m", mount, "-p", "userid"}))
	assert.Equal(t, ExitConfig, runBuild([]string{"-p", "userid", "-d", docsFile}))
	assert.Equal(t, ExitError, runBuild([]string{"-m", mount, "-p", "userid", "-d", writeFile(t, "bad.yaml", "{not: [a list")}))
}
