package model

// EffectType 是转场效果的判别标签。
type EffectType string

const (
	EffectFade   EffectType = "fade"
	EffectSlide  EffectType = "slide"
	EffectScale  EffectType = "scale"
	EffectCustom EffectType = "custom"
)

// Direction 只对 slide 有意义。
type Direction string

const (
	DirectionLeft  Direction = "left"
	DirectionRight Direction = "right"
	DirectionUp    Direction = "up"
	DirectionDown  Direction = "down"
)

// Effect 是转场描述的带标签联合体：按 Type 决定哪些字段有效。
//   - fade{duration}
//   - slide{direction, duration}
//   - scale{duration}
//   - custom{name, duration, params?}
type Effect struct {
	Type      EffectType     `json:"type"`
	Direction Direction      `json:"direction,omitempty"`
	Name      string         `json:"name,omitempty"`
	Duration  int            `json:"duration"` // 毫秒
	Params    map[string]any `json:"params,omitempty"`
}

// Normalize 清掉与 Type 无关的字段，保证同一效果只有一种序列化形式。
func (e Effect) Normalize() Effect {
	out := Effect{Type: e.Type, Duration: e.Duration}
	switch e.Type {
	case EffectSlide:
		out.Direction = e.Direction
	case EffectCustom:
		out.Name = e.Name
		out.Params = cloneParams(e.Params)
	}
	return out
}

// Clone 返回深拷贝。
func (e Effect) Clone() Effect {
	e.Params = cloneParams(e.Params)
	return e
}

func cloneParams(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
