// Package schema 描述文档的字段：名称、稳定的字段 ID 与值类型。
package schema

import (
	"errors"
	"fmt"
)

// ErrUnsupportedField 未知或不支持的字段类型
var ErrUnsupportedField = errors.New("unsupported field type")

// ErrRangeExhausted 字段 ID 超过 uint16 范围
var ErrRangeExhausted = errors.New("cannot support more than 2^16 fields")

// FieldType 字段值的类型
type FieldType string

const (
	TypeI32    FieldType = "i32"
	TypeI64    FieldType = "i64"
	TypeF32    FieldType = "f32"
	TypeF64    FieldType = "f64"
	TypeBool   FieldType = "bool"
	TypeString FieldType = "string"
	TypeBytes  FieldType = "bytes"
)

// ParseFieldType 将字符串转换为 FieldType
func ParseFieldType(s string) (FieldType, error) {
	switch t := FieldType(s); t {
	case TypeI32, TypeI64, TypeF32, TypeF64, TypeBool, TypeString, TypeBytes:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedField, s)
	}
}

// Field 一个字段的定义
type Field struct {
	Name string    `yaml:"name" codec:"name"`
	ID   uint16    `yaml:"id" codec:"id"`
	Type FieldType `yaml:"type" codec:"type"`
}

// ValueLen 返回定长字段的长度，变长字段返回 0, false
func (f Field) ValueLen() (int, bool) {
	switch f.Type {
	case TypeI32, TypeF32:
		return 4, true
	case TypeI64, TypeF64:
		return 8, true
	case TypeBool:
		return 1, true
	default:
		return 0, false
	}
}

// Validate 检查值的长度是否与字段类型匹配
func (f Field) Validate(value []byte) error {
	if n, fixed := f.ValueLen(); fixed && len(value) != n {
		return fmt.Errorf("field %q of type %s expects %d bytes, got %d", f.Name, f.Type, n, len(value))
	}
	return nil
}
