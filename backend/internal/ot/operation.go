package ot

import "time"

type Kind string

const (
	KindInsert Kind = "insert"
	KindDelete Kind = "delete"
	KindRetain Kind = "retain"
)

// EditOperation 单次编辑意图（尚未定版本、未归属用户）
// Position / Length 的单位是 rune（Unicode 码点），apply 与 rebase 统一使用
type EditOperation struct {
	Type     Kind   `json:"type"`              // "insert" / "delete" / "retain"
	Position int    `json:"position"`          // 起始偏移
	Content  string `json:"content,omitempty"` // insert 的文本
	Length   int    `json:"length,omitempty"`  // delete/retain 的长度
}

// TransformedOperation 已提交的操作：EditOperation + 提交元数据
// 进入历史后不再修改
type TransformedOperation struct {
	EditOperation
	OperationID string    `json:"operationId"`
	Version     int       `json:"version"`     // 应用本操作之后产生的文档版本
	BaseVersion int       `json:"baseVersion"` // 客户端提交时所基于的版本
	UserID      string    `json:"userId"`
	Timestamp   time.Time `json:"timestamp"`
}

// 插入文本的长度（rune 数）
func (op EditOperation) insertLen() int {
	return len([]rune(op.Content))
}
