// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rerank

import (
	"container/list"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kadirpekel/mnemo/pkg/retrieval"
)

// cacheKey fingerprints one rerank call: the query, the exact candidate
// set in order, the cut, and whether it was multistage.
func cacheKey(query string, candidates []retrieval.Candidate, topK int, multistage bool) string {
	var sb strings.Builder
	sb.WriteString(query)
	for i := range candidates {
		sb.WriteByte('|')
		sb.WriteString(candidates[i].ChunkID)
	}
	fmt.Fprintf(&sb, "|%d|%t", topK, multistage)
	sum := md5.Sum([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

type cacheEntry struct {
	key     string
	value   []Ranked
	expires time.Time
}

// cache is a bounded LRU with per-entry TTL. All operations are O(1)
// under one mutex.
type cache struct {
	mu        sync.Mutex
	capacity  int
	ttl       time.Duration
	order     *list.List
	entries   map[string]*list.Element
	hits      int64
	misses    int64
	evictions int64
}

func newCache(capacity int, ttl time.Duration) *cache {
	return &cache{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

func (c *cache) get(key string) ([]Ranked, bool) {
	if c.capacity <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if time.Now().After(entry.expires) {
		c.order.Remove(el)
		delete(c.entries, key)
		c.misses++
		return nil, false
	}
	c.order.MoveToFront(el)
	c.hits++
	return entry.value, true
}

func (c *cache) put(key string, value []Ranked) {
	if c.capacity <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.value = value
		entry.expires = time.Now().Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}

	for len(c.entries) >= c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
		c.evictions++
	}

	el := c.order.PushFront(&cacheEntry{
		key:     key,
		value:   value,
		expires: time.Now().Add(c.ttl),
	})
	c.entries[key] = el
}

// Stats returns lifetime hit, miss, and eviction counts.
func (c *cache) Stats() (hits, misses, evictions int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.evictions
}
