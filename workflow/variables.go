package workflow

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/pkg/errors"
)

// Variables 实例级别的变量, 扁平的 string key, 非并发安全, 由实例锁保护
type Variables struct {
	data map[string]any
}

// VariableChange 一次变量变更, 用于历史记录的前后快照
type VariableChange struct {
	Key      string
	OldValue any
	NewValue any
	Existed  bool // 变更之前key是否存在
	Removed  bool
}

// NewVariables 从字节创建, 解析失败返回空变量
func NewVariables(b []byte) *Variables {
	v := &Variables{data: make(map[string]any)}
	if len(b) > 0 {
		if err := json.Unmarshal(b, &v.data); err != nil {
			slog.Error(fmt.Sprintf("NewVariables unmarshal failed, raw: %s, err: %v", string(b), err))
			v.data = make(map[string]any)
		}
	}
	if v.data == nil {
		// "null" 会把map置空
		v.data = make(map[string]any)
	}
	return v
}

// NewVariablesFromMap 会拷贝一份, 外部的map后续修改不影响
func NewVariablesFromMap(m map[string]any) *Variables {
	v := &Variables{data: make(map[string]any, len(m))}
	for k, val := range m {
		v.data[k] = val
	}
	return v
}

func (v *Variables) Get(key string) (any, bool) {
	val, ok := v.data[key]
	return val, ok
}

func (v *Variables) GetString(key string) (string, bool) {
	val, ok := v.data[key]
	if !ok {
		return "", false
	}
	str, ok := val.(string)
	return str, ok
}

// GetInt64 json反序列化之后数字都是float64, 这里都兼容
func (v *Variables) GetInt64(key string) (int64, bool) {
	val, ok := v.data[key]
	if !ok {
		return 0, false
	}
	switch n := val.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func (v *Variables) GetFloat64(key string) (float64, bool) {
	val, ok := v.data[key]
	if !ok {
		return 0, false
	}
	switch n := val.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

func (v *Variables) GetBool(key string) (bool, bool) {
	val, ok := v.data[key]
	if !ok {
		return false, false
	}
	b, ok := val.(bool)
	return b, ok
}

func (v *Variables) Set(key string, value any) VariableChange {
	old, existed := v.data[key]
	v.data[key] = value
	return VariableChange{Key: key, OldValue: old, NewValue: value, Existed: existed}
}

// SetMany 按key排序写入, 保证变更列表的顺序稳定
func (v *Variables) SetMany(values map[string]any) []VariableChange {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	changes := make([]VariableChange, 0, len(keys))
	for _, k := range keys {
		changes = append(changes, v.Set(k, values[k]))
	}
	return changes
}

// Remove key不存在的时候返回false
func (v *Variables) Remove(key string) (VariableChange, bool) {
	old, existed := v.data[key]
	if !existed {
		return VariableChange{Key: key}, false
	}
	delete(v.data, key)
	return VariableChange{Key: key, OldValue: old, Existed: true, Removed: true}, true
}

func (v *Variables) Keys() []string {
	keys := make([]string, 0, len(v.data))
	for k := range v.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (v *Variables) Len() int {
	return len(v.data)
}

// ToMap 返回拷贝
func (v *Variables) ToMap() map[string]any {
	ret := make(map[string]any, len(v.data))
	for k, val := range v.data {
		ret[k] = val
	}
	return ret
}

func (v *Variables) ToBytes() ([]byte, error) {
	b, err := json.Marshal(v.data)
	if err != nil {
		return nil, errors.WithMessage(err, "marshal variables failed")
	}
	return b, nil
}

// Clone 深拷贝, 走一遍json
func (v *Variables) Clone() *Variables {
	b, err := v.ToBytes()
	if err != nil {
		return NewVariablesFromMap(v.data)
	}
	return NewVariables(b)
}

// changeSnapshots 把变更列表转成历史记录里的前后快照
func changeSnapshots(changes []VariableChange) (before map[string]any, after map[string]any) {
	before = make(map[string]any, len(changes))
	after = make(map[string]any, len(changes))
	touched := make(map[string]struct{}, len(changes))
	for _, c := range changes {
		// 同一个key多次变更, before 保留第一次之前的值
		if _, ok := touched[c.Key]; !ok && c.Existed {
			before[c.Key] = c.OldValue
		}
		touched[c.Key] = struct{}{}
		if c.Removed {
			delete(after, c.Key)
		} else {
			after[c.Key] = c.NewValue
		}
	}
	return before, after
}

func (v *Variables) MarshalJSON() ([]byte, error) {
	if v == nil || v.data == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v.data)
}

func (v *Variables) UnmarshalJSON(b []byte) error {
	data := make(map[string]any)
	if err := json.Unmarshal(b, &data); err != nil {
		return errors.WithMessage(err, "unmarshal variables failed")
	}
	if data == nil {
		data = make(map[string]any)
	}
	v.data = data
	return nil
}
