package cache

import "fmt"

// 键语义（docKey 为文档键的稳定序列化）：
// - stateKey(docKey):    文档快照 JSON（LayerDocument）
// - historyKey(docKey):  最近 100 条已提交操作 JSON（LayerDocument）
// - editingKey(docKey):  当前协作者集合 + 版本（LayerSession）

// 用 {} 包住 docKey：Redis Cluster 只对 {} 内部做 CRC16，
// 同一文档的三个键落在同一个 slot 上
const (
	keyStateFmt   = "state:{%s}"
	keyHistoryFmt = "history:{%s}"
	keyEditingFmt = "editing:{%s}"
)

func stateKey(docKey string) string   { return fmt.Sprintf(keyStateFmt, docKey) }
func historyKey(docKey string) string { return fmt.Sprintf(keyHistoryFmt, docKey) }
func editingKey(docKey string) string { return fmt.Sprintf(keyEditingFmt, docKey) }
