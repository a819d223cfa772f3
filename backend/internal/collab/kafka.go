package collab

import (
	"time"

	"collabEngine/backend/internal/ot"
)

const (
	EventOpApplied       = "OP_APPLIED"
	EventDocumentFlushed = "DOCUMENT_FLUSHED"
)

// DocOpEvent 发往 Kafka 的文档事件，以 DocKey 作为消息 key，同一文档落在同一分区
type DocOpEvent struct {
	EventType   string            `json:"eventType"`
	DocKey      string            `json:"docKey"`
	EntityID    string            `json:"entityId"`
	Field       string            `json:"field"`
	OperationID string            `json:"operationId,omitempty"`
	Version     int               `json:"version"`
	BaseVersion int               `json:"baseVersion,omitempty"`
	UserID      string            `json:"userId,omitempty"`
	Op          *ot.EditOperation `json:"op,omitempty"`
	Content     string            `json:"content,omitempty"` // 仅 DOCUMENT_FLUSHED
	At          time.Time         `json:"at"`
}
