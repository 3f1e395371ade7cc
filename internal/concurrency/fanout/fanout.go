package fanout

import (
	"github.com/cespare/xxhash/v2"

	"marketdata/internal/domain/model"
)

// FanOut распределяет данные из входного канала `in` по n выходным каналам.
// Все обновления одного рынка попадают в один и тот же канал, поэтому их
// порядок сохраняется. Каналы закрываются, когда закрывается `in`.
func FanOut(in <-chan model.PriceUpdate, n int) []chan model.PriceUpdate {
	if n <= 0 {
		n = 1
	}
	outs := make([]chan model.PriceUpdate, n)
	for i := 0; i < n; i++ {
		outs[i] = make(chan model.PriceUpdate)
	}

	go func() {
		defer func() {
			for _, ch := range outs {
				close(ch)
			}
		}()

		for v := range in {
			outs[Shard(v.MarketID, n)] <- v
		}
	}()

	return outs
}

// Shard возвращает индекс канала, которому принадлежит marketID.
func Shard(marketID model.MarketID, n int) int {
	if n <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(marketID) % uint64(n))
}
