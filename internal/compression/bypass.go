package compression

import (
	"fmt"
	"regexp"
)

// BypassRuleSet 启动时编译的跳过压缩规则集合，编译后只读
type BypassRuleSet struct {
	patterns []*regexp.Regexp
}

// NewBypassRuleSet 编译全部规则，任意一条无效则返回错误
func NewBypassRuleSet(patterns []string) (*BypassRuleSet, error) {
	rs := &BypassRuleSet{patterns: make([]*regexp.Regexp, 0, len(patterns))}
	for i, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("bypass pattern #%d %q: %w", i+1, p, err)
		}
		rs.patterns = append(rs.patterns, re)
	}
	return rs, nil
}

// Match 任意规则匹配即返回true
func (rs *BypassRuleSet) Match(path string) bool {
	if rs == nil {
		return false
	}
	for _, re := range rs.patterns {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

func (rs *BypassRuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.patterns)
}

// Patterns 返回规则源文本
func (rs *BypassRuleSet) Patterns() []string {
	if rs == nil {
		return nil
	}
	out := make([]string, len(rs.patterns))
	for i, re := range rs.patterns {
		out[i] = re.String()
	}
	return out
}
