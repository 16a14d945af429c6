package model

// DefaultPlaceholderImage 是尚未发布任何内容时展示的占位图。
const DefaultPlaceholderImage = "https://placehold.co/1200x630/eeeeee/aaaaaa.png?text=Coming+Soon"

const (
	DefaultTitle = "waiting for publish"
	DefaultBody  = "Nothing has been published yet. Please check back later."
)

// DefaultContent 构造"等待发布"的默认记录。
// 第一次读取当前内容且存储为空时写入它，保证观众端首屏总有可渲染的东西。
func DefaultContent(version, imageURL string) *VersionedContent {
	if imageURL == "" {
		imageURL = DefaultPlaceholderImage
	}
	return &VersionedContent{
		Version:  version,
		Title:    DefaultTitle,
		Body:     DefaultBody,
		ImageURL: imageURL,
		Effect:   Effect{Type: EffectFade, Duration: 400},
	}
}
