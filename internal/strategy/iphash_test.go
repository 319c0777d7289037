package strategy_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/oOccasio/loadBalancing/internal/backend"
	"github.com/oOccasio/loadBalancing/internal/strategy"
)

type ipHashIntrospection interface {
	CacheSize() int
	Mappings() map[string]string
	PredictServer(healthy []*backend.Backend, clientInfo string) *backend.Backend
}

var _ = Describe("IPHash", func() {
	var (
		strat    strategy.Strategy
		inspect  ipHashIntrospection
		backends []*backend.Backend
	)

	BeforeEach(func() {
		strat = strategy.NewIPHashStrategy(nil)
		inspect = strat.(ipHashIntrospection)
		backends = newPool("s1", "s2", "s3", "s4")
	})

	It("should return the same backend for repeated requests from one client", func() {
		first, err := strat.Select(backends, "192.168.1.100")
		Expect(err).NotTo(HaveOccurred())
		strat.Record(first, 0, true)

		for i := 0; i < 9; i++ {
			chosen, err := strat.Select(backends, "192.168.1.100")
			Expect(err).NotTo(HaveOccurred())
			Expect(chosen.ID()).To(Equal(first.ID()))
			strat.Record(chosen, 0, true)
		}

		Expect(inspect.CacheSize()).To(Equal(1))
	})

	It("should map empty and whitespace client info to the loopback address", func() {
		empty, err := strat.Select(backends, "")
		Expect(err).NotTo(HaveOccurred())
		strat.Record(empty, 0, true)

		blank, err := strat.Select(backends, "   ")
		Expect(err).NotTo(HaveOccurred())
		strat.Record(blank, 0, true)

		loopback, err := strat.Select(backends, "127.0.0.1")
		Expect(err).NotTo(HaveOccurred())
		strat.Record(loopback, 0, true)

		Expect(empty.ID()).To(Equal(loopback.ID()))
		Expect(blank.ID()).To(Equal(loopback.ID()))
		Expect(inspect.CacheSize()).To(Equal(1))
	})

	It("should fold non-IP client info into a synthetic address deterministically", func() {
		first, err := strat.Select(backends, "session-abc-123")
		Expect(err).NotTo(HaveOccurred())
		strat.Record(first, 0, true)

		again, err := strat.Select(backends, "session-abc-123")
		Expect(err).NotTo(HaveOccurred())
		strat.Record(again, 0, true)

		Expect(again.ID()).To(Equal(first.ID()))
	})

	It("should remap a client when its cached backend leaves the healthy set", func() {
		first, err := strat.Select(backends, "10.0.0.7")
		Expect(err).NotTo(HaveOccurred())
		strat.Record(first, 0, true)

		survivors := make([]*backend.Backend, 0, len(backends)-1)
		for _, b := range backends {
			if b.ID() != first.ID() {
				survivors = append(survivors, b)
			}
		}

		chosen, err := strat.Select(survivors, "10.0.0.7")
		Expect(err).NotTo(HaveOccurred())
		Expect(chosen.ID()).NotTo(Equal(first.ID()))
		Expect(inspect.Mappings()["10.0.0.7"]).To(Equal(chosen.ID()))
	})

	It("should purge cache entries for removed backends", func() {
		first, err := strat.Select(backends, "10.0.0.7")
		Expect(err).NotTo(HaveOccurred())
		strat.Record(first, 0, true)
		Expect(inspect.CacheSize()).To(Equal(1))

		strat.OnBackendRemoved(first)
		Expect(inspect.CacheSize()).To(BeZero())
	})

	It("should predict without reserving or caching", func() {
		predicted := inspect.PredictServer(backends, "192.168.1.100")
		Expect(predicted).NotTo(BeNil())
		Expect(predicted.ActiveConnections()).To(BeZero())
		Expect(inspect.CacheSize()).To(BeZero())

		chosen, err := strat.Select(backends, "192.168.1.100")
		Expect(err).NotTo(HaveOccurred())
		Expect(chosen.ID()).To(Equal(predicted.ID()))
	})

	It("should return ErrNoHealthyBackend for an empty list", func() {
		_, err := strat.Select(nil, "1.2.3.4")
		Expect(err).To(MatchError(strategy.ErrNoHealthyBackend))
	})
})
