/*
Copyright 2026 The empo Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package tokenizer

import (
	"crypto/sha256"
	"sync"
	"sync/atomic"
)

const defaultLengthCacheSize = 100000

// LengthCache counts tokens and remembers the count of every text it has
// seen. Budget computation and filtering tokenize the same prompt+completion
// strings more than once, the cache makes the second pass free.
type LengthCache struct {
	tokenizer Tokenizer

	cache      map[[sha256.Size]byte]int
	cacheMutex sync.RWMutex
	// maxCacheSize limits memory usage, once reached new entries are not stored
	maxCacheSize int

	hits   atomic.Int64
	misses atomic.Int64
}

// NewLengthCache creates a LengthCache on top of the given tokenizer
func NewLengthCache(tokenizer Tokenizer, maxCacheSize int) *LengthCache {
	if maxCacheSize <= 0 {
		maxCacheSize = defaultLengthCacheSize
	}
	return &LengthCache{
		tokenizer:    tokenizer,
		cache:        make(map[[sha256.Size]byte]int),
		maxCacheSize: maxCacheSize,
	}
}

// Len returns the number of tokens in the given text
func (c *LengthCache) Len(text string) (int, error) {
	key := sha256.Sum256([]byte(text))

	c.cacheMutex.RLock()
	n, exists := c.cache[key]
	c.cacheMutex.RUnlock()
	if exists {
		c.hits.Add(1)
		return n, nil
	}
	c.misses.Add(1)

	tokens, _, err := c.tokenizer.Encode(text)
	if err != nil {
		return 0, err
	}
	n = len(tokens)

	c.cacheMutex.Lock()
	if len(c.cache) < c.maxCacheSize {
		c.cache[key] = n
	}
	c.cacheMutex.Unlock()

	return n, nil
}

// Stats returns the number of cache hits and misses
func (c *LengthCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Size returns the number of cached entries
func (c *LengthCache) Size() int {
	c.cacheMutex.RLock()
	defer c.cacheMutex.RUnlock()
	return len(c.cache)
}

// Tokenizer returns the underlying tokenizer
func (c *LengthCache) Tokenizer() Tokenizer {
	return c.tokenizer
}
