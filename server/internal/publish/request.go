package publish

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"stagecast/server/internal/model"
)

// Request 是发布接口的请求体。
type Request struct {
	Title    string       `json:"title" validate:"required"`
	Body     string       `json:"body" validate:"required"`
	ImageURL string       `json:"imageUrl" validate:"required,http_url"`
	Effect   *EffectInput `json:"effect" validate:"required"`
	// Version 可选，为空时由服务端生成。
	Version *string `json:"version" validate:"omitempty,max=128,printascii"`
}

// EffectInput 是请求里的效果描述。与 type 无关的字段在转换时丢弃。
type EffectInput struct {
	Type      string         `json:"type" validate:"required,oneof=fade slide scale custom"`
	Direction string         `json:"direction" validate:"required_if=Type slide"`
	Name      string         `json:"name" validate:"required_if=Type custom"`
	Duration  *int           `json:"duration" validate:"required,gte=0"`
	Params    map[string]any `json:"params"`
}

func (e *EffectInput) toModel() model.Effect {
	return model.Effect{
		Type:      model.EffectType(e.Type),
		Direction: model.Direction(e.Direction),
		Name:      e.Name,
		Duration:  *e.Duration,
		Params:    e.Params,
	}.Normalize()
}

var directions = []string{
	string(model.DirectionLeft),
	string(model.DirectionRight),
	string(model.DirectionUp),
	string(model.DirectionDown),
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// direction 只对 slide 校验取值范围，其它类型的 direction 会被丢弃。
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		e := sl.Current().Interface().(EffectInput)
		if e.Type != string(model.EffectSlide) || e.Direction == "" {
			return
		}
		for _, d := range directions {
			if e.Direction == d {
				return
			}
		}
		sl.ReportError(e.Direction, "direction", "Direction", "oneof", strings.Join(directions, " "))
	}, EffectInput{})
	return v
}

// describe 把 validator 的错误转成面向调用方的说明。
func describe(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		switch fe.Tag() {
		case "required":
			out = append(out, fmt.Sprintf("%s is required", field))
		case "required_if":
			out = append(out, fmt.Sprintf("%s is required for this effect type", field))
		case "http_url":
			out = append(out, fmt.Sprintf("%s must be an absolute http(s) URL", field))
		case "oneof":
			out = append(out, fmt.Sprintf("%s must be one of [%s]", field, fe.Param()))
		case "gte":
			out = append(out, fmt.Sprintf("%s must be >= %s", field, fe.Param()))
		case "max":
			out = append(out, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
		case "printascii":
			out = append(out, fmt.Sprintf("%s must be printable ASCII", field))
		default:
			out = append(out, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return out
}
