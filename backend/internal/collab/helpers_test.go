package collab

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"collabEngine/backend/internal/cache"
	"collabEngine/backend/internal/ot"
)

type savedContent struct {
	entityID, field, content string
}

type fakePersistence struct {
	mu      sync.Mutex
	initial map[DocKey]string
	saved   []savedContent
	loads   int
	loadErr error
	saveErr error
	// saveBlocks 为 true 时 SaveFinalContent 一直等到 ctx 到期
	saveBlocks bool
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{initial: make(map[DocKey]string)}
}

func (p *fakePersistence) SaveFinalContent(ctx context.Context, entityID, field, content string) error {
	p.mu.Lock()
	blocks := p.saveBlocks
	p.mu.Unlock()
	if blocks {
		<-ctx.Done()
		return ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.saveErr != nil {
		return p.saveErr
	}
	p.saved = append(p.saved, savedContent{entityID, field, content})
	p.initial[NewDocKey(entityID, field)] = content
	return nil
}

func (p *fakePersistence) LoadInitialContent(ctx context.Context, entityID, field string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loads++
	if p.loadErr != nil {
		return "", p.loadErr
	}
	return p.initial[NewDocKey(entityID, field)], nil
}

func (p *fakePersistence) savedCopy() []savedContent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]savedContent(nil), p.saved...)
}

type fakeArchiver struct {
	mu       sync.Mutex
	versions []int
}

func (a *fakeArchiver) SaveDocumentSnapshot(ctx context.Context, docKey string, version int, content string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.versions = append(a.versions, version)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []DocOpEvent
}

func (p *fakePublisher) Enqueue(ctx context.Context, evt DocOpEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType
	}
	return out
}

// 总是失败的缓存
type brokenStore struct{}

var errCacheDown = errors.New("cache down")

func (brokenStore) Get(context.Context, string, cache.Layer) ([]byte, error) { return nil, errCacheDown }
func (brokenStore) Set(context.Context, string, []byte, cache.Layer, time.Duration) error {
	return errCacheDown
}
func (brokenStore) Delete(context.Context, string, cache.Layer) error { return errCacheDown }

// 统计 Get 次数；release 关闭前 Get 一直阻塞
type countingStore struct {
	*cache.MemoryStore
	gets    atomic.Int32
	release chan struct{}
}

func (s *countingStore) Get(ctx context.Context, key string, layer cache.Layer) ([]byte, error) {
	s.gets.Add(1)
	<-s.release
	return s.MemoryStore.Get(ctx, key, layer)
}

type testEnv struct {
	engine  *Engine
	persist *fakePersistence
	store   cache.Store
	bridge  *cache.Bridge
}

func newTestEnv(t *testing.T, store cache.Store, opts Options) *testEnv {
	t.Helper()
	if store == nil {
		store = cache.NewMemoryStore()
	}
	persist := newFakePersistence()
	bridge := cache.NewBridge(store, zap.NewNop(), cache.BridgeOptions{})
	t.Cleanup(func() { _ = bridge.Close(context.Background()) })
	return &testEnv{
		engine:  NewEngine(persist, bridge, zap.NewNop(), opts),
		persist: persist,
		store:   store,
		bridge:  bridge,
	}
}

func insert(pos int, text string) ot.EditOperation {
	return ot.EditOperation{Type: ot.KindInsert, Position: pos, Content: text}
}

func del(pos, n int) ot.EditOperation {
	return ot.EditOperation{Type: ot.KindDelete, Position: pos, Length: n}
}

func mustApply(t *testing.T, e *Engine, key DocKey, op ot.EditOperation, clientVersion int, user string) ot.TransformedOperation {
	t.Helper()
	applied, err := e.ApplyOperation(context.Background(), key.EntityID, key.Field, op, clientVersion, user)
	require.NoError(t, err)
	return applied
}

func mustState(t *testing.T, e *Engine, key DocKey) *DocumentState {
	t.Helper()
	st := e.GetDocumentState(context.Background(), key.EntityID, key.Field)
	require.NotNil(t, st)
	return st
}
