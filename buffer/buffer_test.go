package buffer

import (
	"bytes"
	"fmt"
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocator_CopyAndFree(t *testing.T) {
	a := NewAllocator()

	b, err := a.Copy([]byte("Alice"))
	require.NoError(t, err)
	require.True(t, b.IsPresent())
	assert.EqualValues(t, 5, b.Length)
	assert.Equal(t, []byte("Alice"), Bytes(b))
	assert.Equal(t, 1, a.Outstanding())

	require.NoError(t, a.Free(b))
	assert.Equal(t, 0, a.Outstanding())

	st := a.Stats()
	assert.EqualValues(t, 1, st.Allocated)
	assert.EqualValues(t, 1, st.Freed)
	assert.EqualValues(t, 0, st.OutstandingBytes)
}

func TestAllocator_EmptyValue(t *testing.T) {
	a := NewAllocator()

	b, err := a.Copy(nil)
	require.NoError(t, err)
	assert.True(t, b.IsPresent(), "空值也必须是 present")
	assert.EqualValues(t, 0, b.Length)
	assert.Equal(t, []byte{}, Bytes(b))
	require.NoError(t, a.Free(b))
}

func TestAllocator_FreeAbsent(t *testing.T) {
	a := NewAllocator()
	for _, status := range []int32{StatusNotFound, StatusInvalidHandle, StatusLookupError} {
		assert.NoError(t, a.Free(Absent(status)))
	}
	assert.EqualValues(t, 0, a.Stats().Rejected)
}

func TestAllocator_DoubleFree(t *testing.T) {
	a := NewAllocator()

	b, err := a.Copy([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, a.Free(b))

	assert.ErrorIs(t, a.Free(b), ErrUnknownBuffer)
	assert.EqualValues(t, 1, a.Stats().Rejected)
}

func TestAllocator_StaleFreeAfterReallocation(t *testing.T) {
	a := NewAllocator()
	defer a.Drain()

	for i := 0; i < 100; i++ {
		first, err := a.Copy([]byte("first"))
		require.NoError(t, err)
		require.NoError(t, a.Free(first))

		// 同样大小的新缓冲区不会拿到仍在隔离区的地址
		second, err := a.Copy([]byte("other"))
		require.NoError(t, err)
		require.NotEqual(t, first.Start, second.Start)

		err = a.Free(first)
		require.ErrorIs(t, err, ErrUnknownBuffer)
		assert.Contains(t, err.Error(), "double free")

		assert.Equal(t, []byte("other"), Bytes(second))
		require.NoError(t, a.Free(second), "旧缓冲区的重复释放不能影响新缓冲区")
	}
	assert.EqualValues(t, 100, a.Stats().Rejected)
}

func TestAllocator_QuarantineBounds(t *testing.T) {
	a := NewAllocator(WithQuarantine(4, 10))

	var bufs []Buffer
	for i := 0; i < 6; i++ {
		b, err := a.Copy([]byte("abc"))
		require.NoError(t, err)
		bufs = append(bufs, b)
	}
	for _, b := range bufs {
		require.NoError(t, a.Free(b))
	}

	// 字节上限 10 只能容纳 3 个 3 字节的缓冲区
	st := a.Stats()
	assert.Equal(t, 3, st.Quarantined)
	assert.EqualValues(t, 9, st.QuarantinedBytes)
	assert.Equal(t, 0, st.Outstanding)

	// 仍在隔离区的地址可以识别重复释放
	assert.ErrorIs(t, a.Free(bufs[5]), ErrUnknownBuffer)

	a.Drain()
	st = a.Stats()
	assert.Equal(t, 0, st.Quarantined)
	assert.EqualValues(t, 0, st.QuarantinedBytes)
}

func TestAllocator_NoQuarantine(t *testing.T) {
	a := NewAllocator(WithQuarantine(0, 0))

	b, err := a.Copy([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, a.Free(b))
	assert.Equal(t, 0, a.Stats().Quarantined)
}

func TestAllocator_ForeignPointer(t *testing.T) {
	a := NewAllocator()

	var local [4]byte
	err := a.Free(Buffer{Length: 4, Start: unsafe.Pointer(&local[0])})
	assert.ErrorIs(t, err, ErrUnknownBuffer)
}

func TestAllocator_LengthMismatch(t *testing.T) {
	a := NewAllocator()

	b, err := a.Copy([]byte("abc"))
	require.NoError(t, err)

	b.Length = 2
	assert.ErrorIs(t, a.Free(b), ErrLengthMismatch)
	assert.Equal(t, 0, a.Outstanding(), "长度不一致时内存仍要释放")
}

func TestAllocator_Concurrent(t *testing.T) {
	a := NewAllocator()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				want := []byte(fmt.Sprintf("g%d-%d", g, i))
				b, err := a.Copy(want)
				if err != nil {
					t.Error(err)
					return
				}
				if !bytes.Equal(Bytes(b), want) {
					t.Errorf("内容不一致: %q", Bytes(b))
				}
				if err := a.Free(b); err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()

	st := a.Stats()
	assert.Equal(t, 0, st.Outstanding)
	assert.EqualValues(t, 8000, st.Allocated)
	assert.EqualValues(t, 8000, st.Freed)
}

func TestStatus(t *testing.T) {
	assert.EqualValues(t, StatusInvalidHandle, Absent(StatusInvalidHandle).Status())
	assert.Nil(t, Bytes(Absent(StatusNotFound)))
	assert.Equal(t, "invalid handle", StatusText(StatusInvalidHandle))
}
