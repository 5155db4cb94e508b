package jobs

import (
	"context"
	"path/filepath"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"go.viam.com/camcalib/logging"
	"go.viam.com/camcalib/rimage"
)

// DefaultSettleTime is how long a new image must go without writes before it is handed on.
const DefaultSettleTime = 300 * time.Millisecond

// WatchImages calls fn with the path of every supported image created in dir until ctx is done. Each file
// is passed on once it has gone DefaultSettleTime without further writes, so fn sees complete files; fn
// calls are serialized.
func WatchImages(ctx context.Context, dir string, logger logging.Logger, fn func(path string)) error {
	return WatchImagesWithSettle(ctx, dir, DefaultSettleTime, logger, fn)
}

// WatchImagesWithSettle is WatchImages with a custom settle time. A zero settle uses DefaultSettleTime.
func WatchImagesWithSettle(
	ctx context.Context,
	dir string,
	settle time.Duration,
	logger logging.Logger,
	fn func(path string),
) error {
	if settle <= 0 {
		settle = DefaultSettleTime
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			logger.Debugw("closing watcher", "error", err)
		}
	}()
	if err := watcher.Add(dir); err != nil {
		return errors.Wrapf(err, "cannot watch %s", dir)
	}
	logger.Infow("watching for images", "dir", dir)

	ready := make(chan string)
	pending := map[string]func(func()){}
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			path := filepath.Clean(event.Name)
			if !rimage.IsSupportedImage(path) {
				continue
			}
			debounced, ok := pending[path]
			if !ok {
				debounced = debounce.New(settle)
				pending[path] = debounced
			}
			debounced(func() {
				select {
				case ready <- path:
				case <-ctx.Done():
				}
			})
		case path := <-ready:
			delete(pending, path)
			logger.Debugw("new image", "path", path)
			fn(path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnw("watcher error", "error", err)
		}
	}
}
