package model

import (
	"net/url"
	"strings"
	"sync"
	"time"
)

// VersionLayout 与浏览器 Date.toISOString() 输出一致：UTC、毫秒精度、可按字典序排序。
const VersionLayout = "2006-01-02T15:04:05.000Z"

// VersionClock 生成服务端版本号。
// 同一进程内保证严格递增：同一毫秒内的两次发布会被推后 1ms。
type VersionClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func NewVersionClock(now func() time.Time) *VersionClock {
	if now == nil {
		now = time.Now
	}
	return &VersionClock{now: now}
}

// Next 返回下一个版本号。
func (c *VersionClock) Next() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC().Truncate(time.Millisecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Millisecond)
	}
	c.last = t
	return t.Format(VersionLayout)
}

// ParseVersion 解析服务端格式的版本号；调用方自带的任意字符串会返回 false。
func ParseVersion(v string) (time.Time, bool) {
	if len(v) != len(VersionLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(VersionLayout, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// CompareVersions 比较两个版本号的先后。
// 只有两边都是时间戳格式时 ordered 才为 true；否则版本号只能比较相等。
func CompareVersions(a, b string) (cmp int, ordered bool) {
	ta, okA := ParseVersion(a)
	tb, okB := ParseVersion(b)
	if !okA || !okB {
		return 0, false
	}
	return ta.Compare(tb), true
}

// uriComponent 把 QueryEscape 的结果改写成 encodeURIComponent 的形式。
var uriComponent = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// WithVersionQuery 在图片 URL 后追加 v=<version>。
// 已有查询串时用 &，否则用 ?；编码规则与 encodeURIComponent 一致（空格为 %20，!'()* 不转义）。
func WithVersionQuery(rawURL, version string) string {
	enc := uriComponent.Replace(url.QueryEscape(version))
	if strings.Contains(rawURL, "?") {
		return rawURL + "&v=" + enc
	}
	return rawURL + "?v=" + enc
}
