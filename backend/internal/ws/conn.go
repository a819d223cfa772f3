package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collabEngine/backend/internal/collab"
	"collabEngine/backend/internal/httpapi/handlers"
)

const (
	sendQueueSize  = 64
	maxMessageSize = 1 << 20
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	// 抢信号量的上限，超过说明服务端已经过载
	acquireTimeout = 200 * time.Millisecond
	// 连接断开后清理会话的上限
	cleanupTimeout = 5 * time.Second
)

type Conn struct {
	ws       *websocket.Conn
	hub      *Hub
	userID   string
	username string
	svc      collab.Service
	// 限制同时在引擎里排队的提交数
	sem *collab.SemaphoreControl
	log *zap.Logger

	// send 由 writeLoop 消费；closed 之后不再写入，避免向已关闭的通道发送
	mu     sync.RWMutex
	closed bool
	send   chan OutboundMessage

	// 本连接加入过的文档，只在 readLoop 所在 goroutine 里读写
	docs map[collab.DocKey]struct{}
}

func NewConn(ws *websocket.Conn, hub *Hub, userID, username string, svc collab.Service, sem *collab.SemaphoreControl, log *zap.Logger) *Conn {
	if log == nil {
		log = zap.NewNop()
	}
	return &Conn{
		ws:       ws,
		hub:      hub,
		userID:   userID,
		username: username,
		svc:      svc,
		sem:      sem,
		log:      log.With(zap.String("user", userID)),
		send:     make(chan OutboundMessage, sendQueueSize),
		docs:     make(map[collab.DocKey]struct{}),
	}
}

// SendMessage_Enqueue 非阻塞入队，队列满时丢弃
func (c *Conn) SendMessage_Enqueue(msg OutboundMessage) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		c.log.Warn("send queue full, drop message", zap.String("type", msg.MessageType()))
	}
}

func (c *Conn) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Conn) sendError(in ClientMessage, err error) {
	_, code := handlers.ErrorStatus(err)
	msg := ErrorMessage{
		Type:      MsgError,
		EntityID:  in.EntityID,
		Field:     in.Field,
		ClientSeq: in.ClientSeq,
		Code:      code,
		Message:   err.Error(),
	}
	var verr *collab.VersionError
	if errors.As(err, &verr) {
		v := verr.ServerVersion
		msg.ServerVersion = &v
	}
	c.SendMessage_Enqueue(msg)
}

func (c *Conn) handleStartEditing(ctx context.Context, msg ClientMessage) {
	key := collab.NewDocKey(msg.EntityID, msg.Field)
	if err := c.svc.StartEditing(ctx, c.userID, key.EntityID, key.Field); err != nil {
		c.sendError(msg, err)
		return
	}
	c.docs[key] = struct{}{}
	c.hub.Join(key, c)
	c.SendMessage_Enqueue(StateMessage{Type: MsgState, State: c.svc.GetDocumentState(ctx, key.EntityID, key.Field)})
	c.hub.BroadcastPresence(key, c.svc.GetCollaborators(ctx, key.EntityID, key.Field))
}

func (c *Conn) handleStopEditing(ctx context.Context, msg ClientMessage) {
	key := collab.NewDocKey(msg.EntityID, msg.Field)
	if err := c.leave(ctx, key); err != nil {
		c.sendError(msg, err)
	}
}

// leave 离开房间；同一用户的其他连接仍在房间里时不结束其编辑会话
func (c *Conn) leave(ctx context.Context, key collab.DocKey) error {
	delete(c.docs, key)
	c.hub.Leave(key, c)
	if c.hub.hasUser(key, c.userID, c) {
		return nil
	}
	if err := c.svc.StopEditing(ctx, c.userID, key.EntityID, key.Field); err != nil {
		return err
	}
	c.hub.BroadcastPresence(key, c.svc.GetCollaborators(ctx, key.EntityID, key.Field))
	return nil
}

func (c *Conn) handleOpSubmit(ctx context.Context, msg ClientMessage) {
	if msg.Op == nil {
		c.SendMessage_Enqueue(ErrorMessage{Type: MsgError, EntityID: msg.EntityID, Field: msg.Field, ClientSeq: msg.ClientSeq, Code: "BAD_REQUEST", Message: "op is required"})
		return
	}
	key := collab.NewDocKey(msg.EntityID, msg.Field)

	if c.sem != nil {
		acquireCtx, cancel := context.WithTimeout(ctx, acquireTimeout)
		defer cancel()
		if err := c.sem.Acquire(acquireCtx); err != nil {
			c.log.Warn("too many inflight submits", zap.Int("inflight", c.sem.InUse()), zap.Stringer("doc", key))
			c.sendError(msg, errors.Join(collab.ErrQueueTimeout, err))
			return
		}
		defer c.sem.Release()
	}

	applied, err := c.svc.ApplyOperation(ctx, key.EntityID, key.Field, *msg.Op, msg.ClientVersion, c.userID)
	if err != nil {
		c.sendError(msg, err)
		return
	}
	c.SendMessage_Enqueue(OpAppliedMessage{Type: MsgOpApplied, EntityID: key.EntityID, Field: key.Field, ClientSeq: msg.ClientSeq, Operation: applied})
	c.hub.Broadcast(key, c, OpBroadcastMessage{Type: MsgOpBroadcast, EntityID: key.EntityID, Field: key.Field, Operation: applied})
}

func (c *Conn) readLoop(ctx context.Context) {
	defer c.cleanup()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Info("read json error", zap.Error(err))
			}
			return
		}
		if msg.Type != MsgStartEditing && msg.Type != MsgStopEditing && msg.Type != MsgOpSubmit &&
			msg.Type != MsgGetState && msg.Type != MsgGetHistory {
			c.SendMessage_Enqueue(ErrorMessage{Type: MsgError, ClientSeq: msg.ClientSeq, Code: "UNKNOWN_TYPE", Message: "Unknown message type " + msg.Type})
			continue
		}
		if msg.EntityID == "" || msg.Field == "" {
			c.SendMessage_Enqueue(ErrorMessage{Type: MsgError, ClientSeq: msg.ClientSeq, Code: "BAD_REQUEST", Message: "entityId and field are required"})
			continue
		}

		switch msg.Type {
		case MsgStartEditing:
			c.handleStartEditing(ctx, msg)
		case MsgStopEditing:
			c.handleStopEditing(ctx, msg)
		case MsgOpSubmit:
			c.handleOpSubmit(ctx, msg)
		case MsgGetState:
			c.SendMessage_Enqueue(StateMessage{Type: MsgState, State: c.svc.GetDocumentState(ctx, msg.EntityID, msg.Field)})
		case MsgGetHistory:
			c.SendMessage_Enqueue(HistoryMessage{
				Type:       MsgHistory,
				EntityID:   msg.EntityID,
				Field:      msg.Field,
				Operations: c.svc.GetOperationHistory(ctx, msg.EntityID, msg.Field, msg.Limit),
			})
		}
	}
}

// cleanup 连接断开：结束本连接加入的所有编辑会话，然后关闭发送队列
// 请求的 ctx 此时可能已经取消，这里用独立的超时
func (c *Conn) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	for key := range c.docs {
		if err := c.leave(ctx, key); err != nil {
			c.log.Warn("stop editing on disconnect failed", zap.Stringer("doc", key), zap.Error(err))
		}
	}
	c.closeSend()
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(msg); err != nil {
				c.log.Debug("write json error", zap.String("type", msg.MessageType()), zap.Error(err))
				// 继续消费直到 readLoop 关闭通道，避免阻塞发送方
				continue
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug("ping failed", zap.Error(err))
			}
		}
	}
}
