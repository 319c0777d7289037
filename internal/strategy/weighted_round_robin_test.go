package strategy_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/oOccasio/loadBalancing/internal/backend"
	"github.com/oOccasio/loadBalancing/internal/strategy"
)

type expansionSizer interface {
	ExpansionSize() int
}

var _ = Describe("WeightedRoundRobin", func() {
	var (
		strat    strategy.Strategy
		backends []*backend.Backend
	)

	BeforeEach(func() {
		strat = strategy.NewWeightedRoundRobinStrategy()
		backends = []*backend.Backend{
			newBackend("s1", 4),
			newBackend("s2", 3),
			newBackend("s3", 2),
			newBackend("s4", 1),
		}
	})

	It("should build an expansion list of length sum of weights", func() {
		_, err := strat.Select(backends, "")
		Expect(err).NotTo(HaveOccurred())

		Expect(strat.(expansionSizer).ExpansionSize()).To(Equal(10))
	})

	It("should distribute requests proportionally to weights", func() {
		counts := make(map[string]int)
		for i := 0; i < 100; i++ {
			chosen, err := strat.Select(backends, "")
			Expect(err).NotTo(HaveOccurred())
			counts[chosen.ID()]++
			strat.Record(chosen, time.Millisecond, true)
		}

		Expect(counts["s1"]).To(BeNumerically("~", 40, 5))
		Expect(counts["s2"]).To(BeNumerically("~", 30, 5))
		Expect(counts["s3"]).To(BeNumerically("~", 20, 5))
		Expect(counts["s4"]).To(BeNumerically("~", 10, 5))
	})

	It("should still select zero-weight backends", func() {
		backends = []*backend.Backend{
			newBackend("s1", 0),
			newBackend("s2", 3),
		}

		counts := make(map[string]int)
		for i := 0; i < 40; i++ {
			chosen, err := strat.Select(backends, "")
			Expect(err).NotTo(HaveOccurred())
			counts[chosen.ID()]++
		}

		Expect(counts["s1"]).To(BeNumerically(">", 0))
	})

	It("should rebuild the expansion when the healthy set changes", func() {
		_, err := strat.Select(backends, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(strat.(expansionSizer).ExpansionSize()).To(Equal(10))

		// s1 drops out of the healthy snapshot
		shrunk := backends[1:]
		chosen, err := strat.Select(shrunk, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(chosen.ID()).NotTo(Equal("s1"))
		Expect(strat.(expansionSizer).ExpansionSize()).To(Equal(6))
	})

	It("should restart the cycle from the first backend after a rebuild", func() {
		_, err := strat.Select(backends, "")
		Expect(err).NotTo(HaveOccurred())

		shrunk := backends[1:]
		chosen, err := strat.Select(shrunk, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(chosen.ID()).To(Equal("s2"))
	})

	It("should return ErrNoHealthyBackend for an empty list", func() {
		_, err := strat.Select([]*backend.Backend{}, "")
		Expect(err).To(MatchError(strategy.ErrNoHealthyBackend))
	})

	It("should prime the expansion from Init", func() {
		fresh := strategy.NewWeightedRoundRobinStrategy()
		fresh.Init(backends)
		Expect(fresh.(expansionSizer).ExpansionSize()).To(Equal(10))
	})
})
