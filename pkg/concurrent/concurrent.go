package concurrent

import (
	"sync"

	"golang.org/x/sync/errgroup"
)

// Each runs the action for every element in a separate goroutine and
// waits for all of them. The first error encountered is returned.
func Each[T any](in []T, action func(T) error) error {
	errGroup := errgroup.Group{}
	for _, value := range in {
		value := value
		errGroup.Go(func() error {
			return action(value)
		})
	}
	return errGroup.Wait()
}

// Throttle runs the action for every element with at most concurrency
// goroutines in flight, and waits for all of them.
func Throttle[T any](in []T, concurrency int, action func(T)) {
	if concurrency < 1 {
		concurrency = 1
	}
	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)
	for _, value := range in {
		wg.Add(1)
		sem <- struct{}{}
		go func(v T) {
			defer wg.Done()
			action(v)
			<-sem
		}(value)
	}
	wg.Wait()
}
