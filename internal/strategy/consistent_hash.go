package strategy

import (
	"crypto/md5"
	"encoding/binary"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oOccasio/loadBalancing/internal/backend"
)

// DefaultVirtualNodes is the number of ring entries contributed per backend.
const DefaultVirtualNodes = 150

// consistentHashStrategy maps clients onto a hash ring. Each healthy backend
// contributes virtualNodes entries keyed by the MD5 hash of "{id}#{i}", and
// a client lands on the first entry at or clockwise after its own hash.
//
// The ring is an immutable snapshot behind an atomic pointer: lookups never
// lock, and a rebuild constructs a complete replacement before swapping it
// in. Rebuilds serialize with each other on the mutex. The digest is
// computed per call, so the hash path never serializes on shared state.
type consistentHashStrategy struct {
	base
	virtualNodes int

	mutex sync.Mutex
	ring  atomic.Pointer[ringSnapshot]
}

type ringSnapshot struct {
	keys   []uint64 // sorted ascending
	owners map[uint64]*backend.Backend
}

// NewConsistentHashStrategy creates a consistent-hashing strategy with the
// given number of virtual nodes per backend (0 picks the default of 150).
func NewConsistentHashStrategy(virtualNodes int) Strategy {
	if virtualNodes <= 0 {
		virtualNodes = DefaultVirtualNodes
	}
	return &consistentHashStrategy{virtualNodes: virtualNodes}
}

func (s *consistentHashStrategy) Name() string {
	return ConsistentHashing
}

func (s *consistentHashStrategy) Init(backends []*backend.Backend) {
	healthy := make([]*backend.Backend, 0, len(backends))
	for _, b := range backends {
		if b.IsHealthy() {
			healthy = append(healthy, b)
		}
	}
	if len(healthy) > 0 {
		s.rebuild(healthy)
	}
}

func (s *consistentHashStrategy) Select(healthy []*backend.Backend, clientInfo string) (*backend.Backend, error) {
	if len(healthy) == 0 {
		return nil, ErrNoHealthyBackend
	}

	chosen := s.locate(healthy, clientInfo)
	if chosen == nil {
		return nil, ErrNoHealthyBackend
	}

	chosen.IncrementConnections()
	return chosen, nil
}

// PredictServer answers "where would this client go?" without reserving the
// backend.
func (s *consistentHashStrategy) PredictServer(healthy []*backend.Backend, clientInfo string) *backend.Backend {
	if len(healthy) == 0 {
		return nil
	}
	return s.locate(healthy, clientInfo)
}

func (s *consistentHashStrategy) locate(healthy []*backend.Backend, clientInfo string) *backend.Backend {
	ring := s.ring.Load()
	if ring == nil || ring.stale(healthy) {
		s.rebuild(healthy)
		ring = s.ring.Load()
	}

	if clientInfo == "" {
		clientInfo = "unknown-client-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	}

	return ring.lookup(ringHash(clientInfo))
}

// OnBackendRemoved drops the stale ring eagerly so the next select rebuilds
// against the new topology.
func (s *consistentHashStrategy) OnBackendRemoved(b *backend.Backend) {
	ring := s.ring.Load()
	if ring == nil {
		return
	}
	if _, ok := ring.members()[b.ID()]; ok {
		s.ring.Store(nil)
	}
}

// RingSize returns the number of entries in the current ring.
func (s *consistentHashStrategy) RingSize() int {
	ring := s.ring.Load()
	if ring == nil {
		return 0
	}
	return len(ring.keys)
}

// RingDistribution returns how many ring entries each backend owns.
func (s *consistentHashStrategy) RingDistribution() map[string]int {
	distribution := make(map[string]int)

	ring := s.ring.Load()
	if ring == nil {
		return distribution
	}

	for _, b := range ring.owners {
		distribution[b.ID()]++
	}

	return distribution
}

// ClientHash exposes the ring hash of a client key.
func (s *consistentHashStrategy) ClientHash(clientInfo string) uint64 {
	return ringHash(clientInfo)
}

// rebuild constructs a complete replacement ring from the healthy snapshot
// and swaps it in. Readers holding the old snapshot are unaffected.
func (s *consistentHashStrategy) rebuild(healthy []*backend.Backend) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if ring := s.ring.Load(); ring != nil && !ring.stale(healthy) {
		return
	}

	owners := make(map[uint64]*backend.Backend, len(healthy)*s.virtualNodes)
	for _, b := range healthy {
		for i := 0; i < s.virtualNodes; i++ {
			owners[ringHash(b.ID()+"#"+strconv.Itoa(i))] = b
		}
	}

	keys := make([]uint64, 0, len(owners))
	for key := range owners {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	s.ring.Store(&ringSnapshot{keys: keys, owners: owners})
}

// stale reports whether the ring's member set differs from the healthy
// snapshot, compared by id.
func (r *ringSnapshot) stale(healthy []*backend.Backend) bool {
	members := r.members()
	if len(members) != len(healthy) {
		return true
	}
	for _, b := range healthy {
		if _, ok := members[b.ID()]; !ok {
			return true
		}
	}
	return false
}

func (r *ringSnapshot) members() map[string]struct{} {
	members := make(map[string]struct{})
	for _, b := range r.owners {
		members[b.ID()] = struct{}{}
	}
	return members
}

// lookup finds the smallest ring key >= hash, wrapping to the first entry
// past the end of the ring.
func (r *ringSnapshot) lookup(hash uint64) *backend.Backend {
	if len(r.keys) == 0 {
		return nil
	}

	idx := sort.Search(len(r.keys), func(i int) bool {
		return r.keys[i] >= hash
	})
	if idx == len(r.keys) {
		idx = 0
	}

	return r.owners[r.keys[idx]]
}

// ringHash is the MD5 of the key, first 8 digest bytes interpreted as a
// big-endian integer with the top bit cleared. Clearing the bit (rather
// than negating the signed interpretation) is the one normalization used
// everywhere on the ring, keeping virtual-node placement and client lookup
// consistent.
func ringHash(key string) uint64 {
	digest := md5.Sum([]byte(key))
	return binary.BigEndian.Uint64(digest[:8]) &^ (1 << 63)
}
