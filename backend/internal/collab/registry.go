package collab

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"collabEngine/backend/internal/ot"
)

// DocKey 文档键：(entityId, field)，同一实体的两个字段是完全独立的文档
type DocKey struct {
	EntityID string
	Field    string
}

func NewDocKey(entityID, field string) DocKey {
	return DocKey{EntityID: entityID, Field: field}
}

// String 稳定序列化：entityId 带长度前缀，避免 ("a:b","c") 与 ("a","b:c") 冲突
func (k DocKey) String() string {
	return strconv.Itoa(len(k.EntityID)) + ":" + k.EntityID + ":" + k.Field
}

// DocumentState 对外暴露的文档状态快照（值拷贝，可以随意读取）
type DocumentState struct {
	EntityID      string    `json:"entityId"`
	Field         string    `json:"field"`
	Content       string    `json:"content"`
	Version       int       `json:"version"`
	LastModified  time.Time `json:"lastModified"`
	Collaborators []string  `json:"collaborators"`
}

type docState struct {
	key DocKey
	// mu 只用于让读接口看到一致的快照；
	// 所有修改都发生在 serializer 的临界区内，同一时刻最多一个写者
	mu            sync.RWMutex
	buf           Buffer
	version       int
	lastModified  time.Time
	collaborators map[string]struct{}
	history       []ot.TransformedOperation
	// lastActive 最近一次加载 / 编辑 / 加入的时间，空闲清理据此判断
	lastActive time.Time
}

func newDocState(key DocKey, content string, version int, history []ot.TransformedOperation, now time.Time) *docState {
	return &docState{
		key:           key,
		buf:           NewPieceTable(content),
		version:       version,
		lastModified:  now,
		collaborators: make(map[string]struct{}),
		history:       history,
		lastActive:    now,
	}
}

func (ds *docState) touch(now time.Time) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if now.After(ds.lastActive) {
		ds.lastActive = now
	}
}

// idle 没有协作者且至少 d 时间没有活动
func (ds *docState) idle(now time.Time, d time.Duration) bool {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return len(ds.collaborators) == 0 && now.Sub(ds.lastActive) >= d
}

func (ds *docState) snapshot() DocumentState {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return DocumentState{
		EntityID:      ds.key.EntityID,
		Field:         ds.key.Field,
		Content:       ds.buf.String(),
		Version:       ds.version,
		LastModified:  ds.lastModified,
		Collaborators: ds.collaboratorsLocked(),
	}
}

func (ds *docState) collaboratorList() []string {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.collaboratorsLocked()
}

// 协作者集合没有顺序语义，这里排序只是为了输出稳定
func (ds *docState) collaboratorsLocked() []string {
	out := make([]string, 0, len(ds.collaborators))
	for u := range ds.collaborators {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// 增删都是幂等的；返回变更后的协作者数量
func (ds *docState) addCollaborator(userID string) int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.collaborators[userID] = struct{}{}
	return len(ds.collaborators)
}

func (ds *docState) removeCollaborator(userID string) int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	delete(ds.collaborators, userID)
	return len(ds.collaborators)
}

// 最近 limit 条历史，旧的在前
func (ds *docState) recentHistory(limit int) []ot.TransformedOperation {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	n := len(ds.history)
	if limit > n {
		limit = n
	}
	out := make([]ot.TransformedOperation, limit)
	copy(out, ds.history[n-limit:])
	return out
}

// registry 进程内所有活跃文档
type registry struct {
	mu   sync.RWMutex
	docs map[DocKey]*docState
}

func newRegistry() *registry {
	return &registry{docs: make(map[DocKey]*docState)}
}

func (r *registry) get(key DocKey) *docState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.docs[key]
}

func (r *registry) put(ds *docState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[ds.key] = ds
}

func (r *registry) remove(key DocKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.docs, key)
}

func (r *registry) keys() []DocKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DocKey, 0, len(r.docs))
	for k := range r.docs {
		out = append(out, k)
	}
	return out
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.docs)
}
