package viewer

import "stagecast/server/internal/model"

// slideDelta 是 slide 进场/出场的位移（像素）。
const slideDelta = 50

// Frame 是动画某一端的视觉参数。
type Frame struct {
	Opacity float64 `json:"opacity"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Scale   float64 `json:"scale"`
}

// Animation 是效果描述映射出的动画参数，渲染层据此插值。
type Animation struct {
	Initial    Frame `json:"initial"`
	Enter      Frame `json:"enter"`
	Exit       Frame `json:"exit"`
	DurationMs int   `json:"durationMs"`
	// custom 效果的名称和参数原样透传给渲染层。
	Name   string         `json:"name,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

var (
	hidden  = Frame{Opacity: 0, Scale: 1}
	visible = Frame{Opacity: 1, Scale: 1}
)

// AnimationFor 把效果描述映射为动画参数。
func AnimationFor(e model.Effect) Animation {
	a := Animation{DurationMs: e.Duration}

	switch e.Type {
	case model.EffectSlide:
		init := hidden
		switch e.Direction {
		case model.DirectionLeft:
			init.X = -slideDelta
		case model.DirectionUp:
			init.Y = -slideDelta
		case model.DirectionDown:
			init.Y = slideDelta
		default:
			init.X = slideDelta
		}
		a.Initial, a.Enter, a.Exit = init, visible, init

	case model.EffectScale:
		a.Initial = Frame{Opacity: 0, Scale: 0.96}
		a.Enter = visible
		a.Exit = Frame{Opacity: 0, Scale: 0.98}

	case model.EffectCustom:
		a.Initial, a.Enter, a.Exit = hidden, visible, hidden
		a.Name = e.Name
		a.Params = e.Clone().Params

	default:
		a.Initial, a.Enter, a.Exit = hidden, visible, hidden
	}
	return a
}

// Renderer 是渲染层。只会在 Sync 的事件循环 goroutine 里被调用。
type Renderer interface {
	Render(c *model.VersionedContent, a Animation)
}

type RendererFunc func(c *model.VersionedContent, a Animation)

func (f RendererFunc) Render(c *model.VersionedContent, a Animation) { f(c, a) }
