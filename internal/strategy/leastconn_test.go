package strategy_test

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/oOccasio/loadBalancing/internal/backend"
	"github.com/oOccasio/loadBalancing/internal/strategy"
)

var _ = Describe("LeastConnections", func() {
	var (
		strat    strategy.Strategy
		backends []*backend.Backend
	)

	BeforeEach(func() {
		strat = strategy.NewLeastConnStrategy(nil)
		backends = newPool("s1", "s2", "s3", "s4")
	})

	It("should select the backend with the fewest active connections", func() {
		backends[0].IncrementConnections()
		backends[0].IncrementConnections()
		backends[1].IncrementConnections()
		backends[3].IncrementConnections()

		chosen, err := strat.Select(backends, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(chosen.ID()).To(Equal("s3"))
	})

	It("should break ties by id", func() {
		chosen, err := strat.Select(backends, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(chosen.ID()).To(Equal("s1"))
	})

	It("should reserve the chosen backend", func() {
		chosen, err := strat.Select(backends, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(chosen.ActiveConnections()).To(Equal(int64(1)))
	})

	It("should spread sequential dispatches evenly when connections are held", func() {
		counts := make(map[string]int)
		for i := 0; i < 8; i++ {
			chosen, err := strat.Select(backends, "")
			Expect(err).NotTo(HaveOccurred())
			counts[chosen.ID()]++
		}

		for _, b := range backends {
			Expect(counts[b.ID()]).To(Equal(2))
		}
	})

	It("should return ErrNoHealthyBackend for an empty list", func() {
		_, err := strat.Select(nil, "")
		Expect(err).To(MatchError(strategy.ErrNoHealthyBackend))
	})

	It("should keep counts balanced under parallel select and release", func() {
		const perWorker = 10
		const workers = 4

		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					chosen, err := strat.Select(backends, "")
					if err != nil {
						continue
					}
					strat.Record(chosen, time.Millisecond, true)
				}
			}()
		}
		wg.Wait()

		var totalSelections int64
		for _, b := range backends {
			Expect(b.ActiveConnections()).To(BeZero())
			totalSelections += b.TotalRequests()
		}
		Expect(totalSelections).To(Equal(int64(workers * perWorker)))
	})
})
