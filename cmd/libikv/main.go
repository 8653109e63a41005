// libikv 导出 C ABI，使用 go build -buildmode=c-shared 构建。
//
// 接口见 ikv.h。get_field_value 返回 start 非空的 BytesBuffer 时，
// 调用方必须调用一次 free_bytes_buffer；start 为空时 length 为状态码：
//
//	 0  没有值
//	-1  句柄无效或已关闭
//	-2  读取失败
//	-3  参数非法
//	-4  值过大
package main

/*
#include <stdint.h>

typedef struct BytesBuffer {
  int32_t length;
  uint8_t *start;
} BytesBuffer;
*/
import "C"

import (
	"unsafe"

	"github.com/forever-free1/TideIKV/buffer"
	"github.com/forever-free1/TideIKV/ffi"
	"github.com/forever-free1/TideIKV/handle"
)

func main() {}

//export health_check
func health_check(input *C.char) C.int64_t {
	if input == nil {
		return -1
	}
	return C.int64_t(ffi.Default().HealthCheck(C.GoString(input)))
}

//export open_index
func open_index(config *C.char, configLen C.int32_t) C.int64_t {
	var blob []byte
	if config != nil && configLen > 0 {
		// 复制一份，调用返回后不再引用调用方的内存
		blob = C.GoBytes(unsafe.Pointer(config), C.int(configLen))
	}
	return C.int64_t(ffi.Default().OpenIndex(blob))
}

//export close_index
func close_index(h C.int64_t) {
	ffi.Default().CloseIndex(handle.Handle(h))
}

//export get_field_value
func get_field_value(h C.int64_t, pkey *C.char, pkeyLen C.int32_t, fieldName *C.char) C.BytesBuffer {
	s := ffi.Default()

	var b buffer.Buffer
	switch {
	case pkeyLen < 0 || (pkey == nil && pkeyLen > 0):
		b = s.RejectLookup(handle.Handle(h), "invalid primary key")
	case fieldName == nil:
		b = s.RejectLookup(handle.Handle(h), "null field name")
	default:
		var pk []byte
		if pkeyLen > 0 {
			pk = C.GoBytes(unsafe.Pointer(pkey), C.int(pkeyLen))
		}
		b = s.GetFieldValue(handle.Handle(h), pk, C.GoString(fieldName))
	}

	return C.BytesBuffer{
		length: C.int32_t(b.Length),
		start:  (*C.uint8_t)(b.Start),
	}
}

//export free_bytes_buffer
func free_bytes_buffer(buf C.BytesBuffer) {
	ffi.Default().FreeBytesBuffer(buffer.Buffer{
		Length: int32(buf.length),
		Start:  unsafe.Pointer(buf.start),
	})
}

//export process_data_event
func process_data_event(h C.int64_t, event *C.char, eventLen C.int32_t) C.int64_t {
	if event == nil || eventLen <= 0 {
		return -1
	}
	data := C.GoBytes(unsafe.Pointer(event), C.int(eventLen))
	if err := ffi.Default().ProcessDataEvent(handle.Handle(h), data); err != nil {
		return -1
	}
	return 0
}

//export flush_writes
func flush_writes(h C.int64_t) C.int64_t {
	if err := ffi.Default().FlushWrites(handle.Handle(h)); err != nil {
		return -1
	}
	return 0
}

// compact_index 返回合并回收的字节数，失败返回 -1
//
//export compact_index
func compact_index(h C.int64_t) C.int64_t {
	st, err := ffi.Default().CompactIndex(handle.Handle(h))
	if err != nil {
		return -1
	}
	return C.int64_t(st.BytesBefore - st.BytesAfter)
}
