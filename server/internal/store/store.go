package store

import (
	"context"
	"errors"

	"stagecast/server/internal/model"
)

// ErrNotFound 表示后端里还没有当前内容记录。
var ErrNotFound = errors.New("content not found")

// Store 是内容记录的后端存储，只保存一个 key 下的当前记录。
type Store interface {
	Get(ctx context.Context) (*model.VersionedContent, error)
	Set(ctx context.Context, c *model.VersionedContent) error
	// SetIfAbsent 仅在 key 不存在时写入，返回是否写入成功。
	SetIfAbsent(ctx context.Context, c *model.VersionedContent) (bool, error)
}
