// Package utils contains the concurrency helpers shared by the image and calibration packages.
package utils

import (
	"context"
	"image"
	"runtime"
	"sync"

	"go.viam.com/utils"
	"golang.org/x/sync/errgroup"
)

// ParallelFactor bounds how many goroutines the helpers below run at once.
var ParallelFactor = max(runtime.GOMAXPROCS(0), 1)

// ParallelForEachPixel calls f once for every [x, y] inside size. The image is cut into horizontal
// bands of roughly equal height, one per worker, and f must be safe to call concurrently.
func ParallelForEachPixel(size image.Point, f func(x, y int)) {
	if size.X <= 0 || size.Y <= 0 {
		return
	}
	bands := min(ParallelFactor, size.Y)
	var wg sync.WaitGroup
	wg.Add(bands)
	for b := range bands {
		top, bottom := b*size.Y/bands, (b+1)*size.Y/bands
		utils.PanicCapturingGo(func() {
			defer wg.Done()
			for y := top; y < bottom; y++ {
				for x := 0; x < size.X; x++ {
					f(x, y)
				}
			}
		})
	}
	wg.Wait()
}

// ParallelForEachRow calls f once per row index in [0, rows) with at most ParallelFactor rows in
// flight. It stops scheduling rows once ctx is done or f errors and returns the first error.
func ParallelForEachRow(ctx context.Context, rows int, f func(row int) error) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(ParallelFactor)
	for row := 0; row < rows; row++ {
		if groupCtx.Err() != nil {
			break
		}
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			return f(row)
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
