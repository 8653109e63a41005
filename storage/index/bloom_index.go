package index

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// BloomFilter 是布隆过滤器的并发安全包装类
// 用于快速排除一定不存在的 key，避免无效的磁盘读取
type BloomFilter struct {
	filter *bloom.BloomFilter
	mu     sync.RWMutex
}

// NewBloomFilter 创建一个新的布隆过滤器
// 参数：
//   - n: 预期存储的元素数量
//   - fp: 期望的误判率
func NewBloomFilter(n uint, fp float64) *BloomFilter {
	if n == 0 {
		n = 1
	}
	// 使用 NewWithEstimates 自动计算最优的 m 和 k
	return &BloomFilter{
		filter: bloom.NewWithEstimates(n, fp),
	}
}

// Add 添加一个 key 到布隆过滤器
func (bf *BloomFilter) Add(key []byte) {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	bf.filter.Add(key)
}

// Test 测试一个 key 是否可能存在
// 返回 false 表示一定不存在
func (bf *BloomFilter) Test(key []byte) bool {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return bf.filter.Test(key)
}
