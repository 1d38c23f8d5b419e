package processor

import (
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strings"
)

// Collector 在一次聚合调用内按 ID 去重，保留首次出现的记录
type Collector[T any] struct {
	id    func(T) string
	seen  map[string]struct{}
	items []T
}

func NewCollector[T any](id func(T) string) *Collector[T] {
	return &Collector[T]{id: id, seen: make(map[string]struct{})}
}

// Add 返回 true 表示记录被收下；空 ID 与重复 ID 都会被丢弃
func (c *Collector[T]) Add(it T) bool {
	key := c.id(it)
	if key == "" {
		return false
	}
	if _, ok := c.seen[key]; ok {
		return false
	}
	c.seen[key] = struct{}{}
	c.items = append(c.items, it)
	return true
}

// Seen 只检查 ID 是否已被收下，不做登记
func (c *Collector[T]) Seen(key string) bool {
	_, ok := c.seen[key]
	return ok
}

func (c *Collector[T]) Len() int { return len(c.items) }

func (c *Collector[T]) Items() []T {
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}

// Rank 去重、按 score 降序稳定排序（同分保持输入顺序），再截取前 n 条。
// n < 0 表示不截断，n == 0 返回空结果。
func Rank[T any](items []T, id func(T) string, score func(T) float64, n int) []T {
	c := NewCollector(id)
	for _, it := range items {
		c.Add(it)
	}
	return SortDesc(c.items, score, n)
}

// SortDesc 只排序和截断，不做去重；不修改入参
func SortDesc[T any](items []T, score func(T) float64, n int) []T {
	out := make([]T, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		return score(out[i]) > score(out[j])
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// HashKey 由多个字段拼出稳定的主键（sha1 十六进制）
func HashKey(parts ...string) string {
	h := sha1.New()
	h.Write([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(h.Sum(nil))
}
