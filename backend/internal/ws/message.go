package ws

import (
	"collabEngine/backend/internal/collab"
	"collabEngine/backend/internal/ot"
)

const (
	MsgStartEditing = "start_editing"
	MsgStopEditing  = "stop_editing"
	MsgOpSubmit     = "op_submit"
	MsgGetState     = "get_state"
	MsgGetHistory   = "get_history"

	MsgWelcome     = "welcome"
	MsgOpApplied   = "op_applied"
	MsgOpBroadcast = "op_broadcast"
	MsgPresence    = "presence"
	MsgState       = "state"
	MsgHistory     = "history"
	MsgError       = "error"
)

// ClientMessage 客户端发来的所有消息共用一个结构，按 Type 取需要的字段
type ClientMessage struct {
	Type          string            `json:"type"`
	EntityID      string            `json:"entityId"`
	Field         string            `json:"field"`
	ClientVersion int               `json:"clientVersion"`
	Op            *ot.EditOperation `json:"op,omitempty"`
	Limit         int               `json:"limit,omitempty"`
	// 同一连接上的本地递增序号，原样回在 ack / error 里
	ClientSeq uint64 `json:"clientSeq,omitempty"`
}

type ServerMessage struct {
	Type     string   `json:"type"`
	EntityID string   `json:"entityId,omitempty"`
	Field    string   `json:"field,omitempty"`
	UserID   string   `json:"userId,omitempty"`
	Members  []string `json:"members,omitempty"`
	Content  string   `json:"content,omitempty"`
}

type ErrorMessage struct {
	Type      string `json:"type"` // 固定 "error"
	EntityID  string `json:"entityId,omitempty"`
	Field     string `json:"field,omitempty"`
	ClientSeq uint64 `json:"clientSeq,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	// VERSION_AHEAD / HISTORY_TRUNCATED 时带上服务端版本（可能为 0），客户端据此重新同步
	ServerVersion *int `json:"serverVersion,omitempty"`
}

// OpAppliedMessage 提交者收到的 ack
type OpAppliedMessage struct {
	Type      string                  `json:"type"` // 固定 "op_applied"
	EntityID  string                  `json:"entityId"`
	Field     string                  `json:"field"`
	ClientSeq uint64                  `json:"clientSeq,omitempty"`
	Operation ot.TransformedOperation `json:"operation"`
}

// OpBroadcastMessage 推送给同文档房间内其他连接（包括同用户的其他标签页）
// 收到后在本地应用 operation，并把本地版本对齐到 operation.version
type OpBroadcastMessage struct {
	Type      string                  `json:"type"` // 固定 "op_broadcast"
	EntityID  string                  `json:"entityId"`
	Field     string                  `json:"field"`
	Operation ot.TransformedOperation `json:"operation"`
}

type StateMessage struct {
	Type  string                `json:"type"` // 固定 "state"
	State *collab.DocumentState `json:"state"`
}

type HistoryMessage struct {
	Type       string                    `json:"type"` // 固定 "history"
	EntityID   string                    `json:"entityId"`
	Field      string                    `json:"field"`
	Operations []ot.TransformedOperation `json:"operations"`
}

// 出站消息接口
type OutboundMessage interface {
	MessageType() string
}

func (m ServerMessage) MessageType() string      { return m.Type }
func (m ErrorMessage) MessageType() string       { return m.Type }
func (m OpAppliedMessage) MessageType() string   { return m.Type }
func (m OpBroadcastMessage) MessageType() string { return m.Type }
func (m StateMessage) MessageType() string       { return m.Type }
func (m HistoryMessage) MessageType() string     { return m.Type }
