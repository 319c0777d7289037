package strategy_test

import (
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/oOccasio/loadBalancing/internal/backend"
	"github.com/oOccasio/loadBalancing/internal/strategy"
)

type ringIntrospection interface {
	RingSize() int
	RingDistribution() map[string]int
	ClientHash(clientInfo string) uint64
	PredictServer(healthy []*backend.Backend, clientInfo string) *backend.Backend
}

var _ = Describe("ConsistentHash", func() {
	var (
		strat    strategy.Strategy
		inspect  ringIntrospection
		backends []*backend.Backend
	)

	BeforeEach(func() {
		strat = strategy.NewConsistentHashStrategy(150)
		inspect = strat.(ringIntrospection)
		backends = newPool("s1", "s2", "s3", "s4")
	})

	It("should return the same backend for the same client", func() {
		first, err := strat.Select(backends, "192.168.1.100")
		Expect(err).NotTo(HaveOccurred())
		strat.Record(first, 0, true)

		for i := 0; i < 5; i++ {
			chosen, err := strat.Select(backends, "192.168.1.100")
			Expect(err).NotTo(HaveOccurred())
			Expect(chosen.ID()).To(Equal(first.ID()))
			strat.Record(chosen, 0, true)
		}
	})

	It("should hash the same key to the same value", func() {
		Expect(inspect.ClientHash("client-7")).To(Equal(inspect.ClientHash("client-7")))
	})

	It("should build a ring of exactly 150 entries per healthy backend", func() {
		_, err := strat.Select(backends, "anyone")
		Expect(err).NotTo(HaveOccurred())

		Expect(inspect.RingSize()).To(Equal(600))

		distribution := inspect.RingDistribution()
		Expect(distribution).To(HaveLen(4))
		for _, b := range backends {
			Expect(distribution[b.ID()]).To(Equal(150))
		}
	})

	It("should never select an unhealthy backend", func() {
		backends[2].SetHealthy(false)

		healthy := make([]*backend.Backend, 0, 3)
		for _, b := range backends {
			if b.IsHealthy() {
				healthy = append(healthy, b)
			}
		}

		for i := 0; i < 100; i++ {
			chosen, err := strat.Select(healthy, fmt.Sprintf("client-%d", i))
			Expect(err).NotTo(HaveOccurred())
			Expect(chosen.ID()).NotTo(Equal("s3"))
			strat.Record(chosen, 0, true)
		}

		distribution := inspect.RingDistribution()
		Expect(distribution).To(HaveLen(3))
		Expect(inspect.RingSize()).To(Equal(450))
	})

	It("should remap only a fraction of clients when a backend joins", func() {
		const clients = 20

		before := make(map[string]string, clients)
		for i := 0; i < clients; i++ {
			key := fmt.Sprintf("client-%d", i)
			before[key] = inspect.PredictServer(backends, key).ID()
		}

		grown := append(backends, newBackend("s5", 1))

		moved := 0
		for i := 0; i < clients; i++ {
			key := fmt.Sprintf("client-%d", i)
			if inspect.PredictServer(grown, key).ID() != before[key] {
				moved++
			}
		}

		// ~1/(N+1) of keys move to the new backend; allow generous slack
		Expect(moved).To(BeNumerically("<=", clients/2))
	})

	It("should drop the ring on an explicit removal and rebuild it on the next select", func() {
		_, err := strat.Select(backends, "anyone")
		Expect(err).NotTo(HaveOccurred())
		Expect(inspect.RingSize()).To(Equal(600))

		strat.OnBackendRemoved(backends[3])

		chosen, err := strat.Select(backends[:3], "anyone")
		Expect(err).NotTo(HaveOccurred())
		Expect(chosen.ID()).NotTo(Equal("s4"))
		Expect(inspect.RingSize()).To(Equal(450))
	})

	It("should predict without reserving", func() {
		predicted := inspect.PredictServer(backends, "client-42")
		Expect(predicted).NotTo(BeNil())
		Expect(predicted.ActiveConnections()).To(BeZero())

		chosen, err := strat.Select(backends, "client-42")
		Expect(err).NotTo(HaveOccurred())
		Expect(chosen.ID()).To(Equal(predicted.ID()))
	})

	It("should return ErrNoHealthyBackend for an empty list", func() {
		_, err := strat.Select(nil, "client")
		Expect(err).To(MatchError(strategy.ErrNoHealthyBackend))
	})
})
