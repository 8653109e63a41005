package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forever-free1/TideIKV/ckv"
	"github.com/forever-free1/TideIKV/config"
	"github.com/forever-free1/TideIKV/logging"
	"github.com/forever-free1/TideIKV/schema"
	"github.com/forever-free1/TideIKV/storage"
)

type change struct {
	op, pk, field string
}

type recorder struct {
	changes []change
}

func (r *recorder) NotifyUpsert(pk, field string, value []byte) {
	r.changes = append(r.changes, change{"upsert", pk, field})
}

func (r *recorder) NotifyDelete(pk, field string) {
	r.changes = append(r.changes, change{"delete", pk, field})
}

func openIndex(t *testing.T) *ckv.Index {
	t.Helper()
	idx, err := ckv.Open(config.New(
		config.WithMountDirectory(t.TempDir()),
		config.WithPrimaryKey("userid"),
		config.WithNumSegments(2),
	), logging.Noop())
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestEventEncodeDecode(t *testing.T) {
	ev := &DataEvent{
		Type:   EventUpsert,
		Fields: map[string][]byte{"userid": []byte("u1"), "name": []byte("Alice")},
		Schema: []schema.Field{{Name: "name", ID: 1, Type: schema.TypeString}},
	}
	data, err := EncodeEvent(ev)
	require.NoError(t, err)

	decoded, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, ev, decoded)

	bad, err := EncodeEvent(&DataEvent{Type: "rename"})
	require.NoError(t, err)
	_, err = DecodeEvent(bad)
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestProcessor_Lifecycle(t *testing.T) {
	idx := openIndex(t)
	rec := &recorder{}
	p := NewProcessor(idx, rec, nil)

	// 新字段随事件一起声明
	require.NoError(t, p.Process(&DataEvent{
		Type:   EventUpsert,
		Fields: map[string][]byte{"userid": []byte("u1"), "name": []byte("Alice")},
		Schema: []schema.Field{{Name: "name", ID: 1, Type: schema.TypeString}},
	}))
	got, err := idx.GetFieldValue([]byte("u1"), "name")
	require.NoError(t, err)
	assert.Equal(t, "Alice", string(got))
	assert.Len(t, rec.changes, 2)

	rec.changes = nil
	require.NoError(t, p.Process(&DataEvent{
		Type:       EventDeleteFields,
		Fields:     map[string][]byte{"userid": []byte("u1")},
		FieldNames: []string{"name"},
	}))
	assert.Equal(t, []change{{"delete", "u1", "name"}}, rec.changes)
	_, err = idx.GetFieldValue([]byte("u1"), "name")
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)

	rec.changes = nil
	data, err := EncodeEvent(&DataEvent{
		Type:   EventDeleteDocument,
		Fields: map[string][]byte{"userid": []byte("u1")},
	})
	require.NoError(t, err)
	require.NoError(t, p.ProcessBytes(data))
	assert.Equal(t, []change{{"delete", "u1", ""}}, rec.changes)
	_, err = idx.GetFieldValue([]byte("u1"), "userid")
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)
}

func TestProcessor_Errors(t *testing.T) {
	p := NewProcessor(openIndex(t), nil, nil)

	err := p.Process(&DataEvent{Type: EventUpsert, Fields: map[string][]byte{"name": []byte("x")}})
	assert.ErrorIs(t, err, ErrMissingPrimaryKey)

	err = p.Process(&DataEvent{Type: EventUpsert, Fields: map[string][]byte{"userid": []byte("u1"), "age": {1}}})
	assert.ErrorIs(t, err, ckv.ErrFieldNotFound)

	err = p.Process(&DataEvent{Type: "merge", Fields: map[string][]byte{"userid": []byte("u1")}})
	assert.ErrorIs(t, err, ErrUnknownEvent)

	assert.Error(t, p.ProcessBytes([]byte{0xc1}))
}
