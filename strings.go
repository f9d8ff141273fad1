package rill

import (
	"encoding/binary"

	lru "github.com/hashicorp/golang-lru"
	"github.com/holiman/bloomfilter/v2"
	"golang.org/x/crypto/blake2b"
)

// shortStringLimit is the size under which a string is interned
// eagerly (spec §3: "short strings are interned eagerly"). Above it,
// the string may be interned lazily through the long-string cache.
const shortStringLimit = 40

// Str is an interned, immutable byte string (component B). Its hash
// is computed once, at intern time, and cached — HashValue and
// RawEquals both rely on that being stable for the object's lifetime.
type Str struct {
	bytes []byte
	hash  uint64
}

func (s *Str) String() string { return string(s.bytes) }
func (s *Str) Len() int       { return len(s.bytes) }
func (s *Str) Bytes() []byte  { return s.bytes }

// stringTable is the process-wide (per-GlobalState) intern table
// named by spec §3. Short strings are kept in an exact map so equal
// content always resolves to the same *Str; long strings go through a
// bounded LRU (hashicorp/golang-lru) guarded by a bloom filter
// (holiman/bloomfilter) that turns the common "definitely new string"
// case into an O(1) negative check instead of a full map probe.
type stringTable struct {
	short map[string]*Str
	long  *lru.Cache
	bloom *bloomfilter.Filter
}

func newStringTable() *stringTable {
	long, err := lru.New(4096)
	if err != nil {
		panic(err)
	}
	bf, err := bloomfilter.New(1<<20, 0.001)
	if err != nil {
		panic(err)
	}
	return &stringTable{
		short: make(map[string]*Str, 256),
		long:  long,
		bloom: bf,
	}
}

// intern returns the canonical *Str for the given content, creating
// and caching it on first sight. Two calls with equal content always
// return the same pointer (spec §8.5: rawequal("abc","a".."b".."c")).
func (t *stringTable) intern(data []byte) *Str {
	if len(data) <= shortStringLimit {
		key := string(data)
		if s, ok := t.short[key]; ok {
			return s
		}
		s := &Str{bytes: []byte(key), hash: sampledHash(data)}
		t.short[key] = s
		return s
	}

	h := sampledHash(data)
	if t.bloom.Contains(h) {
		if v, ok := t.long.Get(string(data)); ok {
			return v.(*Str)
		}
	}
	t.bloom.Add(h)
	s := &Str{bytes: append([]byte(nil), data...), hash: h}
	t.long.Add(string(data), s)
	return s
}

// sampledHash implements the sample-based long-string hash spec §3
// asks for: at most 32 bytes, stride-sampled, folded with the
// string's length so short and long strings of similar prefixes don't
// collide trivially. The sampled bytes are digested with blake2b
// (golang.org/x/crypto) rather than a hand-rolled mix, reduced to the
// 8-byte digest RawEquals/HashValue need.
func sampledHash(data []byte) uint64 {
	n := len(data)
	sample := data
	if n > 32 {
		step := n / 32
		if step == 0 {
			step = 1
		}
		sample = make([]byte, 0, 32)
		for i := 0; i < n; i += step {
			sample = append(sample, data[i])
		}
	}

	h, err := blake2b.New(8, nil)
	if err != nil {
		panic(err)
	}
	h.Write(sample)
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(n))
	h.Write(lenBuf[:])
	return binary.LittleEndian.Uint64(h.Sum(nil))
}

// NewStr interns a Go string through the default global state's
// table. Most production code should go through a *GlobalState
// instead; this exists for call sites that don't carry a VM handle:
// errors.go's error-message strings, and the compiler's string
// constants, which callClosure rebinds to the running VM's own table.
func NewStr(s string) *Str {
	return defaultStrings.intern([]byte(s))
}

var defaultStrings = newStringTable()
