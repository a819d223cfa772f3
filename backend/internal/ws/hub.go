package ws

import (
	"sync"

	"collabEngine/backend/internal/collab"
)

type Hub struct {
	// 保护 rooms；广播时先在锁内拷贝一份连接列表再逐个发送
	mu sync.RWMutex
	// 文档键 -> 连接集合
	// 房间里存的是连接而不是 userID：一个用户可开多个标签页，广播要逐连接发
	rooms map[collab.DocKey]map[*Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[collab.DocKey]map[*Conn]struct{})}
}

// Join 将连接加入指定文档房间
func (h *Hub) Join(key collab.DocKey, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[key] == nil {
		h.rooms[key] = make(map[*Conn]struct{})
	}
	h.rooms[key][c] = struct{}{}
}

// Leave 将连接从指定文档房间移除
func (h *Hub) Leave(key collab.DocKey, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[key]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, key)
		}
	}
}

func (h *Hub) connections(key collab.DocKey) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Conn, 0, len(h.rooms[key]))
	for c := range h.rooms[key] {
		out = append(out, c)
	}
	return out
}

// Broadcast 发给房间内除 except 以外的所有连接
func (h *Hub) Broadcast(key collab.DocKey, except *Conn, msg OutboundMessage) {
	for _, c := range h.connections(key) {
		if c != except {
			c.SendMessage_Enqueue(msg)
		}
	}
}

func (h *Hub) BroadcastPresence(key collab.DocKey, members []string) {
	h.Broadcast(key, nil, ServerMessage{
		Type:     MsgPresence,
		EntityID: key.EntityID,
		Field:    key.Field,
		Members:  members,
	})
}

// RoomSize 房间内的连接数
func (h *Hub) RoomSize(key collab.DocKey) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[key])
}

// hasUser 房间里除 except 外是否还有该用户的连接
func (h *Hub) hasUser(key collab.DocKey, userID string, except *Conn) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[key] {
		if c != except && c.userID == userID {
			return true
		}
	}
	return false
}
