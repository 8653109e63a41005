package schema

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
)

// EncodeValue 按字段类型将值编码为字节
// 数值类型使用小端序；v 可以是 Go 数值、bool、string 或 []byte，
// 字符串会按字段类型解析（用于命令行和 YAML 输入）
func (f Field) EncodeValue(v any) ([]byte, error) {
	if s, ok := v.(string); ok && f.Type != TypeString && f.Type != TypeBytes {
		parsed, err := parseScalar(f.Type, s)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		v = parsed
	}

	switch f.Type {
	case TypeString, TypeBytes:
		switch x := v.(type) {
		case string:
			return []byte(x), nil
		case []byte:
			return x, nil
		case bool, int, int32, int64, uint64, float32, float64:
			// YAML 会把 123、true 之类的标量解析成非字符串类型
			return []byte(fmt.Sprint(x)), nil
		}
	case TypeBool:
		if b, ok := v.(bool); ok {
			if b {
				return []byte{1}, nil
			}
			return []byte{0}, nil
		}
	case TypeI32:
		if n, ok := toInt64(v); ok && n >= math.MinInt32 && n <= math.MaxInt32 {
			return binary.LittleEndian.AppendUint32(nil, uint32(int32(n))), nil
		}
	case TypeI64:
		if n, ok := toInt64(v); ok {
			return binary.LittleEndian.AppendUint64(nil, uint64(n)), nil
		}
	case TypeF32:
		if x, ok := toFloat64(v); ok {
			return binary.LittleEndian.AppendUint32(nil, math.Float32bits(float32(x))), nil
		}
	case TypeF64:
		if x, ok := toFloat64(v); ok {
			return binary.LittleEndian.AppendUint64(nil, math.Float64bits(x)), nil
		}
	}
	return nil, fmt.Errorf("field %q: cannot encode %T as %s", f.Name, v, f.Type)
}

// DecodeValue 将字节按字段类型还原
func (f Field) DecodeValue(data []byte) (any, error) {
	if err := f.Validate(data); err != nil {
		return nil, err
	}
	switch f.Type {
	case TypeI32:
		return int32(binary.LittleEndian.Uint32(data)), nil
	case TypeI64:
		return int64(binary.LittleEndian.Uint64(data)), nil
	case TypeF32:
		return math.Float32frombits(binary.LittleEndian.Uint32(data)), nil
	case TypeF64:
		return math.Float64frombits(binary.LittleEndian.Uint64(data)), nil
	case TypeBool:
		return data[0] != 0, nil
	case TypeString:
		return string(data), nil
	default:
		return data, nil
	}
}

func parseScalar(t FieldType, s string) (any, error) {
	switch t {
	case TypeBool:
		return strconv.ParseBool(s)
	case TypeI32, TypeI64:
		return strconv.ParseInt(s, 10, 64)
	default:
		return strconv.ParseFloat(s, 64)
	}
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint64:
		if x <= math.MaxInt64 {
			return int64(x), true
		}
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	if n, ok := toInt64(v); ok {
		return float64(n), true
	}
	return 0, false
}
