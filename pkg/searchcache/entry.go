package searchcache

import (
	"container/list"
	"reflect"
	"time"
)

// CacheEntry 缓存条目
type CacheEntry struct {
	Data         any       // 未压缩时的原始值
	Payload      []byte    // 压缩后的序列化数据，仅 Compressed 为 true 时有效
	Timestamp    time.Time // 创建时间，用于 TTL 判断
	LastAccessed time.Time // 最后一次命中时间，仅用于观测
	Hits         int64     // 命中次数
	Compressed   bool      // Payload 是否需要解压
	Size         float64   // 序列化后的大小（KB），插入时计算一次

	valueType reflect.Type // 写入值的类型，压缩条目按此类型解码
}

func (e *CacheEntry) expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.Timestamp) > ttl
}

// EntryInfo 单个条目的诊断信息
type EntryInfo struct {
	Key        string        `json:"key"`
	Size       float64       `json:"size_kb"`
	Hits       int64         `json:"hits"`
	Age        time.Duration `json:"age"`
	Compressed bool          `json:"compressed"`
}

// Info 缓存内容的诊断快照
type Info struct {
	Size        int           `json:"size"`            // 当前条目数
	MemoryUsage float64       `json:"memory_usage_mb"` // 当前负载占用（MB）
	MaxSize     float64       `json:"max_size_mb"`
	MaxEntries  int           `json:"max_entries"`
	TTL         time.Duration `json:"ttl"`
	Entries     []EntryInfo   `json:"entries"` // 按访问顺序排列，最久未访问的在前
}

// accessOrder 维护键的访问顺序，队首为最久未访问的键。
// 它是 LRU 淘汰的唯一依据，与 CacheEntry.LastAccessed 无关。
type accessOrder struct {
	ll    *list.List
	index map[string]*list.Element
}

func newAccessOrder() *accessOrder {
	return &accessOrder{
		ll:    list.New(),
		index: make(map[string]*list.Element),
	}
}

// touch 将键移动到队尾，不存在时追加
func (o *accessOrder) touch(key string) {
	if elem, ok := o.index[key]; ok {
		o.ll.MoveToBack(elem)
		return
	}
	o.index[key] = o.ll.PushBack(key)
}

func (o *accessOrder) remove(key string) {
	if elem, ok := o.index[key]; ok {
		o.ll.Remove(elem)
		delete(o.index, key)
	}
}

// oldest 返回队首的键
func (o *accessOrder) oldest() (string, bool) {
	front := o.ll.Front()
	if front == nil {
		return "", false
	}
	return front.Value.(string), true
}

func (o *accessOrder) has(key string) bool {
	_, ok := o.index[key]
	return ok
}

func (o *accessOrder) len() int {
	return o.ll.Len()
}

// keys 按从旧到新的顺序返回所有键
func (o *accessOrder) keys() []string {
	keys := make([]string, 0, o.ll.Len())
	for e := o.ll.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(string))
	}
	return keys
}

func (o *accessOrder) reset() {
	o.ll.Init()
	o.index = make(map[string]*list.Element)
}
