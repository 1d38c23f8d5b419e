package processor

import (
	"strings"
	"sync/atomic"
)

// Matcher 对小写后的文本做字面子串匹配
type Matcher struct {
	keywords []string
}

func NewMatcher(keywords []string) *Matcher {
	m := &Matcher{keywords: make([]string, 0, len(keywords))}
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		m.keywords = append(m.keywords, k)
	}
	return m
}

func (m *Matcher) Match(text string) bool {
	_, ok := m.First(text)
	return ok
}

// First 返回第一个命中的关键词
func (m *Matcher) First(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	lower := strings.ToLower(text)
	for _, k := range m.keywords {
		if strings.Contains(lower, k) {
			return k, true
		}
	}
	return "", false
}

// Matches 返回全部命中的关键词，保持关键词列表顺序
func (m *Matcher) Matches(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, k := range m.keywords {
		if strings.Contains(lower, k) {
			out = append(out, k)
		}
	}
	return out
}

// FilterWithFallback 保留命中关键词的记录；一条都没命中时原样返回全部记录，filtered 为 false
func FilterWithFallback[T any](items []T, text func(T) string, m *Matcher) (out []T, filtered bool) {
	for _, it := range items {
		if m.Match(text(it)) {
			out = append(out, it)
		}
	}
	if len(out) > 0 {
		return out, true
	}
	all := make([]T, len(items))
	copy(all, items)
	return all, false
}

// SkipCounter 统计单条记录解析失败被跳过的次数，可并发使用
type SkipCounter struct {
	n    atomic.Int64
	hook func()
}

// NewSkipCounter hook 每跳过一条调用一次（例如 Prometheus 计数）
func NewSkipCounter(hook func()) *SkipCounter {
	return &SkipCounter{hook: hook}
}

func (s *SkipCounter) Skip() {
	s.n.Add(1)
	if s.hook != nil {
		s.hook()
	}
}

func (s *SkipCounter) Count() int64 {
	return s.n.Load()
}
