package fanin

import (
	"context"
	"sync"

	"marketdata/internal/domain/model"
)

// FanIn объединяет несколько каналов PriceUpdate в один.
// Выходной канал закрывается, когда все входные каналы закрыты или ctx отменён.
func FanIn(ctx context.Context, channels ...<-chan model.PriceUpdate) <-chan model.PriceUpdate {
	out := make(chan model.PriceUpdate)
	var wg sync.WaitGroup
	wg.Add(len(channels))

	for _, ch := range channels {
		go func(c <-chan model.PriceUpdate) {
			defer wg.Done()
			for v := range c {
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}(ch)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}
