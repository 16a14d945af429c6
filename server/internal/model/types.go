package model

// VersionedContent 是观众端渲染的唯一内容记录。
// 同一时刻只存在一个"当前"记录，发布时整体替换，不保留历史。
type VersionedContent struct {
	// Version 用于去重：同一版本只渲染一次。
	Version string `json:"version"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	// ImageURL 存储时已追加 v=<version>，避免观众端命中旧缓存。
	ImageURL string `json:"imageUrl"`
	Effect   Effect `json:"effect"`
}

// Clone 返回深拷贝，Params 不与原记录共享。
func (c *VersionedContent) Clone() *VersionedContent {
	if c == nil {
		return nil
	}
	out := *c
	out.Effect = c.Effect.Clone()
	return &out
}

// PollResult 是 /poll 的响应体。
type PollResult struct {
	HasUpdate bool              `json:"hasUpdate"`
	Content   *VersionedContent `json:"content,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// 推送流上的控制帧类型，与内容帧共用同一条连接。
const (
	FrameConnected = "connected"
	FrameError     = "error"
)

// ControlFrame 是推送流上的控制消息（非内容）。
type ControlFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ViewerSettings 是 /config/viewer 返回的观众端公开配置，不含任何密钥。
// 时长都以毫秒下发，0 表示由观众端使用自己的默认值。
type ViewerSettings struct {
	ForcePolling        bool            `json:"forcePolling"`
	PollIntervalMs      int             `json:"pollIntervalMs"`
	RetryDelayMs        int             `json:"retryDelayMs"`
	OpenTimeoutMs       int             `json:"openTimeoutMs"`
	ReconnectIntervalMs int             `json:"reconnectIntervalMs"`
	Pusher              *PusherSettings `json:"pusher,omitempty"`
}

// PusherSettings 只在服务端启用 Pusher 时下发。
type PusherSettings struct {
	Key     string `json:"key"`
	Cluster string `json:"cluster"`
	Channel string `json:"channel"`
	Event   string `json:"event"`
}
