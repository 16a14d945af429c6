package publish

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnauthorized 表示 x-admin-token 不匹配。
	ErrUnauthorized = errors.New("unauthorized")
	// ErrValidation 是所有校验失败的哨兵，用 errors.Is 判断。
	ErrValidation = errors.New("invalid publish request")
)

// ValidationError 携带逐字段的错误说明。
type ValidationError struct {
	Details []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(e.Details, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
