package proxy

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/config"
)

// Watch hot-reloads the proxy pool when the proxy file changes on disk.
// Events are debounced because editors and config management tools write
// files in several operations. Returns a stop function.
func (m *Manager) Watch(path string) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: many editors replace the file via rename, which
	// drops a watch placed on the file itself.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	target := filepath.Clean(path)
	done := make(chan struct{})

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer watcher.Close()

		var debounce *time.Timer
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(250*time.Millisecond, func() {
					m.reloadFromFile(path)
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("Proxy file watcher error")
			case <-done:
				return
			case <-m.stopCh:
				return
			}
		}
	}()

	log.Info().Str("file", path).Msg("Watching proxy file for changes")
	return func() { close(done) }, nil
}

func (m *Manager) reloadFromFile(path string) {
	entries, err := config.LoadProxyFile(path)
	if err != nil {
		log.Error().Err(err).Str("file", path).Msg("Proxy file reload failed, keeping current pool")
		return
	}
	m.Reload(entries)
	log.Info().Int("proxies", len(entries)).Str("file", path).Msg("Proxy pool reloaded")
}
