package model

import (
	"strings"
	"testing"
	"time"
)

// TestVersionClockStrictlyIncreasing 验证同一毫秒内连续生成的版本号仍然严格递增。
func TestVersionClockStrictlyIncreasing(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 123_456_789, time.UTC)
	clock := NewVersionClock(func() time.Time { return fixed })

	v1 := clock.Next()
	v2 := clock.Next()
	v3 := clock.Next()

	if v1 != "2025-03-01T12:00:00.123Z" {
		t.Fatalf("unexpected first version %q", v1)
	}
	if !(v1 < v2 && v2 < v3) {
		t.Fatalf("expected strictly increasing versions, got %q %q %q", v1, v2, v3)
	}
	if v2 != "2025-03-01T12:00:00.124Z" {
		t.Fatalf("expected bump by 1ms, got %q", v2)
	}
}

// TestVersionClockClockGoesBackwards 验证系统时钟回拨时版本号不会倒退。
func TestVersionClockClockGoesBackwards(t *testing.T) {
	times := []time.Time{
		time.Date(2025, 3, 1, 12, 0, 1, 0, time.UTC),
		time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	i := 0
	clock := NewVersionClock(func() time.Time {
		t := times[i]
		i++
		return t
	})

	v1 := clock.Next()
	v2 := clock.Next()
	if cmp, ok := CompareVersions(v2, v1); !ok || cmp <= 0 {
		t.Fatalf("expected %q after %q", v2, v1)
	}
}

func TestCompareVersions(t *testing.T) {
	cases := []struct {
		a, b    string
		cmp     int
		ordered bool
	}{
		{"2025-03-01T12:00:00.000Z", "2025-03-01T12:00:00.001Z", -1, true},
		{"2025-03-01T12:00:00.001Z", "2025-03-01T12:00:00.000Z", 1, true},
		{"2025-03-01T12:00:00.000Z", "2025-03-01T12:00:00.000Z", 0, true},
		{"release-7", "2025-03-01T12:00:00.000Z", 0, false},
		{"2025-03-01T12:00:00Z", "2025-03-01T12:00:00.000Z", 0, false},
	}
	for _, tc := range cases {
		cmp, ordered := CompareVersions(tc.a, tc.b)
		if cmp != tc.cmp || ordered != tc.ordered {
			t.Errorf("CompareVersions(%q, %q) = (%d, %v), want (%d, %v)", tc.a, tc.b, cmp, ordered, tc.cmp, tc.ordered)
		}
	}
}

// TestWithVersionQuery 验证 ? 与 & 的选择以及版本号编码。
func TestWithVersionQuery(t *testing.T) {
	v := "2025-03-01T12:00:00.000Z"

	got := WithVersionQuery("https://x/img.png", v)
	if got != "https://x/img.png?v=2025-03-01T12%3A00%3A00.000Z" {
		t.Fatalf("unexpected url %q", got)
	}

	got = WithVersionQuery("https://x/img.png?w=100", v)
	if !strings.HasPrefix(got, "https://x/img.png?w=100&v=") {
		t.Fatalf("expected & separator, got %q", got)
	}

	got = WithVersionQuery("https://x/img.png", "spring launch")
	if !strings.HasSuffix(got, "?v=spring%20launch") {
		t.Fatalf("expected %%20 for spaces, got %q", got)
	}

	// encodeURIComponent 不转义 !'()*，但 & = / 要转义
	got = WithVersionQuery("https://x/img.png", "v(1)!*'&=/~")
	if want := "https://x/img.png?v=v(1)!*'%26%3D%2F~"; got != want {
		t.Fatalf("WithVersionQuery = %q, want %q", got, want)
	}
}

func TestEffectNormalizeDropsIrrelevantFields(t *testing.T) {
	e := Effect{Type: EffectFade, Direction: DirectionUp, Name: "x", Duration: 300, Params: map[string]any{"a": 1}}
	n := e.Normalize()
	if n.Direction != "" || n.Name != "" || n.Params != nil {
		t.Fatalf("expected fade to drop slide/custom fields, got %+v", n)
	}

	s := Effect{Type: EffectSlide, Direction: DirectionUp, Duration: 800}.Normalize()
	if s.Direction != DirectionUp || s.Duration != 800 {
		t.Fatalf("unexpected slide normalize %+v", s)
	}
}

func TestCloneDoesNotShareParams(t *testing.T) {
	c := &VersionedContent{Version: "v1", Effect: Effect{Type: EffectCustom, Name: "GlitchText", Params: map[string]any{"speed": 2}}}
	cp := c.Clone()
	cp.Effect.Params["speed"] = 9
	if c.Effect.Params["speed"] != 2 {
		t.Fatalf("expected original params untouched, got %v", c.Effect.Params["speed"])
	}
}
