package service

import (
	"testing"

	"tradebook/domain/orderbook"
	entrywal "tradebook/infra/wal/entry"
	exitwal "tradebook/infra/wal/exit"
)

func newBenchExchange(b *testing.B) *fixture {
	b.Helper()
	journal, err := entrywal.Open(entrywal.Config{Dir: b.TempDir(), SegmentSize: 64 << 20})
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = journal.Close() })
	outbox, err := exitwal.Open(b.TempDir())
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = outbox.Close() })

	f := newFixture(b, Deps{Journal: journal, Outbox: outbox})
	f.seed()
	if err := f.x.Fund(owner, maker, n(int64(b.N)*1001)); err != nil {
		b.Fatal(err)
	}
	return f
}

var benchOrder = orderbook.PlaceParams{
	OrderType:         orderbook.Limit,
	SwapType:          orderbook.EthForTokens,
	TokenIn:           WETH,
	TokenOut:          dai,
	AmountInOffered:   n(1000),
	AmountOutExpected: n(1),
	ExecutorFee:       n(1),
}

func BenchmarkPlaceJournaled(b *testing.B) {
	f := newBenchExchange(b)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := f.x.Place(maker, benchOrder, n(1001)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkExecuteJournaled(b *testing.B) {
	f := newBenchExchange(b)
	ids := make([]uint64, b.N)
	for i := range ids {
		id, err := f.x.Place(maker, benchOrder, n(1001))
		if err != nil {
			b.Fatal(err)
		}
		ids[i] = id
	}

	b.ReportAllocs()
	b.ResetTimer()
	for _, id := range ids {
		if _, err := f.x.Execute(executor, id); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkPlaceParallel(b *testing.B) {
	f := newBenchExchange(b)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := f.x.Place(maker, benchOrder, n(1001)); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
