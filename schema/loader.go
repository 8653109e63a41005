package schema

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// document 是 schema YAML 文件的结构
//
//	document:
//	  - name: firstname
//	    id: 0
//	    type: string
type document struct {
	Document []rawField `yaml:"document"`
}

type rawField struct {
	Name *string `yaml:"name"`
	ID   *int64  `yaml:"id"`
	Type *string `yaml:"type"`
}

// LoadYAML 解析 YAML 字符串为字段列表，结果按字段 ID 排序
func LoadYAML(data []byte) ([]Field, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("解析 schema 失败: %w", err)
	}

	fields := make([]Field, 0, len(doc.Document))
	for i, raw := range doc.Document {
		if raw.Name == nil || *raw.Name == "" {
			return nil, fmt.Errorf("schema field %d: `name` is a required attribute", i)
		}
		if raw.ID == nil {
			return nil, fmt.Errorf("schema field %q: `id` is a required attribute", *raw.Name)
		}
		if raw.Type == nil {
			return nil, fmt.Errorf("schema field %q: `type` is a required attribute", *raw.Name)
		}
		if *raw.ID < 0 || *raw.ID > 0xffff {
			return nil, fmt.Errorf("schema field %q: %w", *raw.Name, ErrRangeExhausted)
		}
		ft, err := ParseFieldType(*raw.Type)
		if err != nil {
			return nil, fmt.Errorf("schema field %q: %w", *raw.Name, err)
		}
		fields = append(fields, Field{Name: *raw.Name, ID: uint16(*raw.ID), Type: ft})
	}

	SortByID(fields)
	return fields, nil
}

// ReadFile 读取 schema 文件，文件不存在时返回空列表
func ReadFile(path string) ([]Field, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("读取 schema 文件失败: %w", err)
	}
	return LoadYAML(data)
}

// WriteFile 将字段列表写入 schema 文件（先写临时文件再重命名）
func WriteFile(path string, fields []Field) error {
	sorted := append([]Field(nil), fields...)
	SortByID(sorted)

	data, err := yaml.Marshal(struct {
		Document []Field `yaml:"document"`
	}{Document: sorted})
	if err != nil {
		return fmt.Errorf("序列化 schema 失败: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("写入 schema 文件失败: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("替换 schema 文件失败: %w", err)
	}
	return nil
}

// SortByID 按字段 ID 升序排序
func SortByID(fields []Field) {
	sort.Slice(fields, func(i, j int) bool {
		return fields[i].ID < fields[j].ID
	})
}
