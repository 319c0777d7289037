package strategy

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/oOccasio/loadBalancing/internal/backend"
)

// ipHashStrategy pins each client IP to a backend. The client info is
// normalized to a dotted-quad address, hashed as a 32-bit big-endian
// integer, and taken modulo the healthy list. A stickiness cache keeps the
// mapping stable across requests as long as the cached backend stays
// healthy.
//
// The cache check, selection, and store run as one atomic section under the
// mutex, closing the check-then-act race between concurrent requests from
// the same client.
type ipHashStrategy struct {
	base
	logger *slog.Logger

	mutex sync.Mutex
	cache map[string]string // client ip -> backend id
}

// NewIPHashStrategy creates an IP-hash strategy instance.
func NewIPHashStrategy(logger *slog.Logger) Strategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &ipHashStrategy{
		logger: logger,
		cache:  make(map[string]string),
	}
}

func (s *ipHashStrategy) Name() string {
	return IPHash
}

func (s *ipHashStrategy) Select(healthy []*backend.Backend, clientInfo string) (*backend.Backend, error) {
	if len(healthy) == 0 {
		return nil, ErrNoHealthyBackend
	}

	ip := normalizeClientIP(clientInfo)
	selectedID := s.computeMapping(ip, healthy)

	var chosen *backend.Backend
	for _, b := range healthy {
		if b.ID() == selectedID {
			chosen = b
			break
		}
	}

	if chosen == nil {
		// The topology raced between the cache section and here; drop the
		// stale mapping and fall back to the first healthy backend.
		s.logger.Warn("IP-hash mapping points at a vanished backend, falling back",
			slog.String("ip", ip),
			slog.String("backend", selectedID))

		s.mutex.Lock()
		delete(s.cache, ip)
		s.mutex.Unlock()

		chosen = healthy[0]
	}

	chosen.IncrementConnections()
	return chosen, nil
}

// computeMapping returns the cached backend id for ip if it is still in the
// healthy snapshot, otherwise computes a fresh index and overwrites the
// cache entry. The whole section is atomic with respect to other selectors.
func (s *ipHashStrategy) computeMapping(ip string, healthy []*backend.Backend) string {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if cachedID, ok := s.cache[ip]; ok {
		for _, b := range healthy {
			if b.ID() == cachedID {
				return cachedID
			}
		}
	}

	index := hashIndex(ip, len(healthy))
	freshID := healthy[index].ID()
	s.cache[ip] = freshID

	return freshID
}

// OnBackendRemoved purges every cache entry mapped to the removed backend.
func (s *ipHashStrategy) OnBackendRemoved(b *backend.Backend) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for ip, id := range s.cache {
		if id == b.ID() {
			delete(s.cache, ip)
		}
	}
}

// PredictServer returns the backend a client would hash to, without touching
// the stickiness cache or any connection counter.
func (s *ipHashStrategy) PredictServer(healthy []*backend.Backend, clientInfo string) *backend.Backend {
	if len(healthy) == 0 {
		return nil
	}
	return healthy[hashIndex(normalizeClientIP(clientInfo), len(healthy))]
}

// CacheSize returns the number of sticky mappings currently held.
func (s *ipHashStrategy) CacheSize() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.cache)
}

// Mappings returns a copy of the stickiness cache.
func (s *ipHashStrategy) Mappings() map[string]string {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	out := make(map[string]string, len(s.cache))
	for ip, id := range s.cache {
		out[ip] = id
	}
	return out
}

// hashIndex interprets the dotted quad as a 32-bit big-endian integer and
// maps it onto [0, n).
func hashIndex(ip string, n int) int {
	var hash int32
	for _, octet := range strings.Split(ip, ".") {
		value, _ := strconv.Atoi(octet)
		hash = hash*256 + int32(value)
	}

	index := int64(hash) % int64(n)
	if index < 0 {
		index = -index
	}
	return int(index)
}

// normalizeClientIP maps arbitrary client info onto a dotted-quad address.
// A valid IPv4 address passes through unchanged; anything else is folded
// into a synthetic address derived from a 32-bit string hash, with each
// octet in [1, 255]. Empty input maps to the loopback address.
func normalizeClientIP(clientInfo string) string {
	trimmed := strings.TrimSpace(clientInfo)
	if trimmed == "" {
		return "127.0.0.1"
	}

	if isDottedQuad(trimmed) {
		return trimmed
	}

	hash := stringHash32(clientInfo)
	a := absMod255(hash) + 1
	b := absMod255(hash>>8) + 1
	c := absMod255(hash>>16) + 1
	d := absMod255(hash>>24) + 1

	return fmt.Sprintf("%d.%d.%d.%d", a, b, c, d)
}

// isDottedQuad reports whether s is exactly four decimal octets in [0, 255].
func isDottedQuad(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}

	for _, part := range parts {
		if len(part) == 0 || len(part) > 3 {
			return false
		}
		for _, r := range part {
			if r < '0' || r > '9' {
				return false
			}
		}
		if value, err := strconv.Atoi(part); err != nil || value > 255 {
			return false
		}
	}

	return true
}

// stringHash32 is the classic 31-multiplier rolling hash with 32-bit
// wraparound.
func stringHash32(s string) int32 {
	var h int32
	for _, b := range []byte(s) {
		h = 31*h + int32(b)
	}
	return h
}

func absMod255(v int32) int32 {
	m := int64(v)
	if m < 0 {
		m = -m
	}
	return int32(m % 255)
}
