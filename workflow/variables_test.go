package workflow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariables(t *testing.T) {
	t.Run("从字节创建", func(t *testing.T) {
		v := NewVariables([]byte(`{"days":3,"reason":"回家","urgent":true}`))
		days, ok := v.GetInt64("days")
		assert.True(t, ok)
		assert.Equal(t, int64(3), days)
		reason, ok := v.GetString("reason")
		assert.True(t, ok)
		assert.Equal(t, "回家", reason)
		urgent, ok := v.GetBool("urgent")
		assert.True(t, ok)
		assert.True(t, urgent)
		_, ok = v.GetString("days")
		assert.False(t, ok)
		assert.Equal(t, []string{"days", "reason", "urgent"}, v.Keys())
	})

	t.Run("非法字节和null都得到空变量", func(t *testing.T) {
		assert.Equal(t, 0, NewVariables([]byte("null")).Len())
		assert.Equal(t, 0, NewVariables([]byte("{bad")).Len())
		assert.Equal(t, 0, NewVariables(nil).Len())
		v := NewVariables([]byte("null"))
		v.Set("a", 1)
		assert.Equal(t, 1, v.Len())
	})

	t.Run("拷贝不影响原始数据", func(t *testing.T) {
		src := map[string]any{"a": 1}
		v := NewVariablesFromMap(src)
		src["a"] = 2
		got, _ := v.Get("a")
		assert.Equal(t, 1, got)

		m := v.ToMap()
		m["b"] = 1
		_, ok := v.Get("b")
		assert.False(t, ok)

		clone := v.Clone()
		clone.Set("a", 3)
		got, _ = v.Get("a")
		assert.Equal(t, 1, got)
	})

	t.Run("变更记录", func(t *testing.T) {
		v := NewVariablesFromMap(map[string]any{"a": 1})
		changes := v.SetMany(map[string]any{"b": 2, "a": 10})
		require.Len(t, changes, 2)
		assert.Equal(t, VariableChange{Key: "a", OldValue: 1, NewValue: 10, Existed: true}, changes[0])
		assert.Equal(t, VariableChange{Key: "b", NewValue: 2}, changes[1])

		removed, ok := v.Remove("b")
		assert.True(t, ok)
		assert.True(t, removed.Removed)
		_, ok = v.Remove("missing")
		assert.False(t, ok)

		before, after := changeSnapshots(append(changes, removed))
		assert.Equal(t, map[string]any{"a": 1}, before)
		assert.Equal(t, map[string]any{"a": 10}, after)
	})

	t.Run("json编解码", func(t *testing.T) {
		v := NewVariablesFromMap(map[string]any{"days": 3})
		b, err := json.Marshal(v)
		require.NoError(t, err)
		assert.JSONEq(t, `{"days":3}`, string(b))

		decoded := &Variables{}
		require.NoError(t, json.Unmarshal([]byte(`{"ratio":0.5}`), decoded))
		ratio, ok := decoded.GetFloat64("ratio")
		assert.True(t, ok)
		assert.Equal(t, 0.5, ratio)
	})

	t.Run("解析失败记录错误日志", func(t *testing.T) {
		buf := captureLog(t)
		v := NewVariables([]byte(`{"a":`))
		assert.Equal(t, 0, v.Len())
		v.Set("a", 1)
		assert.Equal(t, 1, v.Len())
		assert.Contains(t, buf.String(), "NewVariables unmarshal failed")
		assert.Contains(t, buf.String(), "level=ERROR")
	})

	t.Run("历史快照解析失败记录错误日志", func(t *testing.T) {
		buf := captureLog(t)
		assert.Nil(t, jsonToMap([]byte("[1,2")))
		assert.Contains(t, buf.String(), "jsonToMap unmarshal failed")
		assert.Nil(t, mapToJSON(map[string]any{"ch": make(chan int)}))
		assert.Contains(t, buf.String(), "mapToJSON marshal failed")
		assert.Equal(t, map[string]any{"a": float64(1)}, jsonToMap(mapToJSON(map[string]any{"a": 1})))
	})
}
