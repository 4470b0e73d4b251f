package watch

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
)

// UploadFunc sends a single file.
type UploadFunc func(ctx context.Context, path string) error

// Watcher uploads every regular file that appears in, or is written to, a
// directory. Each file is its own upload; subdirectories are ignored.
type Watcher struct {
	dir    string
	upload UploadFunc

	// Settle is how long a file must go without write events before it is
	// uploaded.
	Settle time.Duration

	// Parallel bounds the uploads in flight. Settled files wait for a free
	// slot while events keep being drained.
	Parallel int

	mu     sync.Mutex
	active map[string]bool
}

// New returns a Watcher for dir that hands each settled file to upload.
func New(dir string, upload UploadFunc) *Watcher {
	return &Watcher{
		dir:      dir,
		upload:   upload,
		Settle:   500 * time.Millisecond,
		Parallel: 2,
		active:   make(map[string]bool),
	}
}

// Run uploads the files already present, then watches for new ones until ctx
// is canceled. Upload failures are logged and do not stop the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(w.dir); err != nil {
		return err
	}
	log.Printf("watching %s", w.dir)

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	pending := make(map[string]time.Time)
	for _, entry := range entries {
		if !hidden(entry.Name()) && entry.Type().IsRegular() {
			pending[filepath.Join(w.dir, entry.Name())] = time.Time{}
		}
	}

	tick := w.Settle / 2
	if tick <= 0 {
		tick = time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	var uploads errgroup.Group
	uploads.SetLimit(max(w.Parallel, 1))
	defer uploads.Wait()

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
			if hidden(filepath.Base(event.Name)) {
				continue
			}
			pending[event.Name] = time.Now()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Println("watcher:", err)
		case now := <-ticker.C:
			for path, last := range pending {
				path := path
				if now.Sub(last) < w.Settle || !w.claim(path) {
					continue
				}
				started := uploads.TryGo(func() error {
					defer w.release(path)
					w.send(ctx, path)
					return nil
				})
				if !started {
					w.release(path)
					continue
				}
				delete(pending, path)
			}
		}
	}
}

// claim marks path as being uploaded. A file that changes again while its
// upload runs stays pending until that upload returns.
func (w *Watcher) claim(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.active[path] {
		return false
	}
	w.active[path] = true
	return true
}

func (w *Watcher) release(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.active, path)
}

func (w *Watcher) send(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}
	log.Printf("uploading %s (%d bytes)", path, info.Size())
	if err := w.upload(ctx, path); err != nil {
		log.Printf("upload %s: %v", path, err)
	}
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
