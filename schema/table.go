package schema

import (
	"fmt"
	"maps"
	"sync"
)

// Table 是并发安全的字段表：字段名 -> Field
// 字段只增不改，已存在字段的 ID 和类型不可变
type Table struct {
	mu     sync.RWMutex
	byName map[string]Field
	byID   map[uint16]string
	path   string // 为空时不持久化
}

// NewTable 用初始字段创建字段表
// path 非空时，每次新增字段都会写回该文件
func NewTable(path string, fields []Field) (*Table, error) {
	t := &Table{
		byName: make(map[string]Field, len(fields)),
		byID:   make(map[uint16]string, len(fields)),
		path:   path,
	}
	for _, f := range fields {
		if _, err := t.insert(f); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Lookup 按字段名查找字段
func (t *Table) Lookup(name string) (Field, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, ok := t.byName[name]
	return f, ok
}

// LookupID 按字段 ID 查找字段
func (t *Table) LookupID(id uint16) (Field, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	name, ok := t.byID[id]
	if !ok {
		return Field{}, false
	}
	return t.byName[name], true
}

// Fields 返回全部字段，按 ID 排序
func (t *Table) Fields() []Field {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshot()
}

// Len 返回字段数量
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byName)
}

// Update 合并新字段，已知字段被跳过
// 与已有字段冲突（同名不同 ID/类型，或 ID 被占用）时返回错误
// 全部字段校验通过并写回文件后才对读者可见，失败时字段表保持不变
func (t *Table) Update(fields []Field) error {
	if len(fields) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	byName, byID := maps.Clone(t.byName), maps.Clone(t.byID)
	changed := false
	for _, f := range fields {
		added, err := insertInto(byName, byID, f)
		if err != nil {
			return err
		}
		changed = changed || added
	}
	if !changed {
		return nil
	}
	return t.commit(byName, byID)
}

// Ensure 返回名为 name 的字段，不存在时分配下一个空闲 ID 并新增
func (t *Table) Ensure(name string, ft FieldType) (Field, error) {
	if f, ok := t.Lookup(name); ok {
		if f.Type != ft {
			return Field{}, fmt.Errorf("field %q already declared as %s, not %s", name, f.Type, ft)
		}
		return f, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if f, ok := t.byName[name]; ok {
		return f, nil
	}

	next := -1
	for id := 0; id <= 0xffff; id++ {
		if _, used := t.byID[uint16(id)]; !used {
			next = id
			break
		}
	}
	if next < 0 {
		return Field{}, ErrRangeExhausted
	}

	f := Field{Name: name, ID: uint16(next), Type: ft}
	byName, byID := maps.Clone(t.byName), maps.Clone(t.byID)
	if _, err := insertInto(byName, byID, f); err != nil {
		return Field{}, err
	}
	if err := t.commit(byName, byID); err != nil {
		return Field{}, err
	}
	return f, nil
}

// insert 在写锁下插入字段，返回是否为新字段
func (t *Table) insert(f Field) (bool, error) {
	return insertInto(t.byName, t.byID, f)
}

func insertInto(byName map[string]Field, byID map[uint16]string, f Field) (bool, error) {
	if f.Name == "" {
		return false, fmt.Errorf("field name cannot be empty")
	}
	if _, err := ParseFieldType(string(f.Type)); err != nil {
		return false, err
	}

	if existing, ok := byName[f.Name]; ok {
		if existing.ID != f.ID || existing.Type != f.Type {
			return false, fmt.Errorf("field %q conflicts with existing definition (id=%d, type=%s)", f.Name, existing.ID, existing.Type)
		}
		return false, nil
	}
	if owner, used := byID[f.ID]; used {
		return false, fmt.Errorf("field id %d of %q already used by %q", f.ID, f.Name, owner)
	}

	byName[f.Name] = f
	byID[f.ID] = f.Name
	return true, nil
}

// commit 在写锁下先持久化新的字段集合，成功后再替换内存中的表
func (t *Table) commit(byName map[string]Field, byID map[uint16]string) error {
	if t.path != "" {
		if err := WriteFile(t.path, sortedFields(byName)); err != nil {
			return fmt.Errorf("持久化 schema 失败: %w", err)
		}
	}
	t.byName, t.byID = byName, byID
	return nil
}

func (t *Table) snapshot() []Field {
	return sortedFields(t.byName)
}

func sortedFields(byName map[string]Field) []Field {
	fields := make([]Field, 0, len(byName))
	for _, f := range byName {
		fields = append(fields, f)
	}
	SortByID(fields)
	return fields
}
