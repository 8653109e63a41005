package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(opts ...Option) *StoreConfig {
	base := []Option{
		WithMountDirectory("/tmp/ikv"),
		WithPrimaryKey("userid"),
	}
	return New(append(base, opts...)...)
}

func TestEncodeDecode(t *testing.T) {
	c := validConfig(
		WithStoreName("users"),
		WithNumSegments(4),
		WithBloomFP(0.05),
		WithLogToConsole(false),
		WithBytes("opaque", []byte{0, 1, 2}),
	)

	blob, err := c.Encode()
	require.NoError(t, err)

	decoded, err := Decode(blob)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/ikv", decoded.MountDirectory())
	assert.Equal(t, "userid", decoded.PrimaryKey())
	assert.Equal(t, "users", decoded.StoreName())
	assert.Equal(t, 4, decoded.NumSegments())
	assert.InDelta(t, 0.05, decoded.BloomFP(), 1e-9)
	assert.False(t, decoded.LogToConsole())
	assert.Equal(t, []byte{0, 1, 2}, decoded.BytesConfigs["opaque"])

	// 解码结果不引用 blob
	for i := range blob {
		blob[i] = 0
	}
	assert.Equal(t, []byte{0, 1, 2}, decoded.BytesConfigs["opaque"])
}

func TestDefaults(t *testing.T) {
	c := validConfig()
	require.NoError(t, c.Validate())

	assert.Equal(t, DefaultStoreName, c.StoreName())
	assert.Equal(t, DefaultLogLevel, c.LogLevel())
	assert.True(t, c.LogToConsole())
	assert.Equal(t, DefaultNumSegments, c.NumSegments())
	assert.EqualValues(t, DefaultDataFileSizeLimit, c.DataFileSizeLimit())
	assert.Equal(t, "art", c.IndexType())
	assert.Equal(t, "none", c.Compression())
	assert.Len(t, c.BitcaskOptions(), 4)
}

func TestDecode_Garbage(t *testing.T) {
	_, err := Decode(nil)
	assert.Error(t, err)

	_, err = Decode([]byte{0xc1, 0xff, 0x00})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]*StoreConfig{
		"no mount":        New(WithPrimaryKey("userid")),
		"no primary key":  New(WithMountDirectory("/tmp/ikv")),
		"zero segments":   validConfig(WithNumSegments(0)),
		"too many":        validConfig(WithNumSegments(MaxNumSegments + 1)),
		"bad file limit":  validConfig(WithDataFileSizeLimit(-1)),
		"bad bloom fp":    validConfig(WithBloomFP(1.5)),
		"bad log level":   validConfig(WithLogLevel("trace")),
		"bad index type":  validConfig(WithIndexType("btree")),
		"bad compression": validConfig(WithCompression("lz4")),
		"bad schema":      validConfig(WithSchema("document:\n  - name: a\n")),
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, c.Validate())
		})
	}

	err := New().Validate()
	assert.True(t, errors.Is(err, ErrMissingKey))
}

func TestSchemaFromBytes(t *testing.T) {
	doc := []byte("document:\n  - name: userid\n    id: 0\n    type: string\n")
	c := validConfig(WithBytes(KeySchema, doc))
	require.NoError(t, c.Validate())
	assert.Equal(t, doc, c.Schema())
}
