package ot

import (
	"errors"
	"fmt"
)

// ErrInvalidOperation 未知类型或负载不合法（例如 delete 没有 length）
var ErrInvalidOperation = errors.New("INVALID_OPERATION")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidOperation, fmt.Sprintf(format, args...))
}
