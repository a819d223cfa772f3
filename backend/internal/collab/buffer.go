package collab

import (
	"collabEngine/backend/internal/ot"
)

// 抽象文档内容缓冲区接口
// Apply 要么成功，要么返回错误且内容不变
type Buffer interface {
	Len() int
	Apply(op ot.EditOperation) error
	String() string
}

/*
PieceTable 的偏移和长度都按 rune 计：

"你好世界" 上执行 insert{position=2, content="，"}
  orig = "你好世界", add = "，"
  [ (orig, 0, 2) "你好" | (add, 0, 1) "，" | (orig, 2, 2) "世界" ]
*/
