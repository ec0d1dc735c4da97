package safety

import (
	"sync"

	"golang.org/x/sync/semaphore"
)

// KeyedLock 按资源键互斥，不同键互不影响。
// 锁释放后键即被回收，map 大小只取决于正在执行的动作数。
type KeyedLock struct {
	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

// NewKeyedLock 创建按键锁
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{locks: make(map[string]*semaphore.Weighted)}
}

// TryAcquire 非阻塞获取锁。成功时返回的 release 可重复调用。
func (k *KeyedLock) TryAcquire(key string) (release func(), ok bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, exists := k.locks[key]
	if !exists {
		s = semaphore.NewWeighted(1)
		k.locks[key] = s
	}
	if !s.TryAcquire(1) {
		return func() {}, false
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			k.mu.Lock()
			defer k.mu.Unlock()
			s.Release(1)
			// 获取与释放都在 k.mu 内完成，释放后该键一定空闲
			if k.locks[key] == s {
				delete(k.locks, key)
			}
		})
	}, true
}

// Len 返回当前被持有的键数量
func (k *KeyedLock) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
