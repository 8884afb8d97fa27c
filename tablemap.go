package tmstorage

import (
	"math/bits"
	"slices"
)

const (
	// tableMapGrowth is the number of words added when a slot beyond the map is set.
	tableMapGrowth = 12500
	// freeWordCacheSize bounds the cache of words known to have a free bit.
	freeWordCacheSize = 20
	fullWord          = ^uint32(0)
)

// tableMap is a bitmap of occupied stream table slots.
type tableMap struct {
	words []uint32
	// freeWords caches, in ascending order, indexes of words that had a zero
	// bit when cached. Every word with a zero bit below the last cached index
	// is in the cache.
	freeWords []int
}

func (m *tableMap) capacity() int {
	return len(m.words) * 32
}

func (m *tableMap) set(index int, used bool) {
	for index >= m.capacity() {
		m.words = append(m.words, make([]uint32, tableMapGrowth)...)
	}

	word, bit := index/32, uint(index%32)
	if used {
		m.words[word] |= 1 << bit
		return
	}
	m.words[word] &^= 1 << bit
	m.cacheFreed(word)
}

// cacheFreed puts word back into the cache when it sorts before the last
// cached word. Words past the cache are found again by refill.
func (m *tableMap) cacheFreed(word int) {
	n := len(m.freeWords)
	if n == 0 || word > m.freeWords[n-1] {
		return
	}
	i, found := slices.BinarySearch(m.freeWords, word)
	if found {
		return
	}
	m.freeWords = slices.Insert(m.freeWords, i, word)
	if len(m.freeWords) > freeWordCacheSize {
		m.freeWords = m.freeWords[:freeWordCacheSize]
	}
}

// firstFree returns the lowest free slot.
// When every known slot is used it returns the capacity of the map.
func (m *tableMap) firstFree() int {
	for len(m.freeWords) > 0 && m.words[m.freeWords[0]] == fullWord {
		m.freeWords = m.freeWords[1:]
	}
	if len(m.freeWords) == 0 {
		m.refill()
	}
	if len(m.freeWords) == 0 {
		return m.capacity()
	}

	word := m.freeWords[0]
	return word*32 + bits.TrailingZeros32(^m.words[word])
}

func (m *tableMap) refill() {
	m.freeWords = m.freeWords[:0]
	for i, w := range m.words {
		if len(m.freeWords) >= freeWordCacheSize {
			break
		}
		if w != fullWord {
			m.freeWords = append(m.freeWords, i)
		}
	}
}

func (m *tableMap) clear() {
	m.words = nil
	m.freeWords = nil
}
