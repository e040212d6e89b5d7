package client

import (
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher watches the config file and triggers token rotation
// when the stored token changes, so a running session reauthenticates
// without a restart.
type ConfigWatcher struct {
	watcher    *fsnotify.Watcher
	configPath string
	lastToken  string
	rotateFunc func(token string) error
	stopChan   chan struct{}
}

// NewConfigWatcher creates a watcher for the given config file.
// rotateFunc is called with the new token whenever it changes.
func NewConfigWatcher(configPath, currentToken string, rotateFunc func(token string) error) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &ConfigWatcher{
		watcher:    watcher,
		configPath: configPath,
		lastToken:  currentToken,
		rotateFunc: rotateFunc,
		stopChan:   make(chan struct{}),
	}, nil
}

// Start begins watching the config file for changes.
func (cw *ConfigWatcher) Start() error {
	// Watch the directory: editors often replace the file instead of
	// writing it in place
	if err := cw.watcher.Add(filepath.Dir(cw.configPath)); err != nil {
		return err
	}

	go func() {
		// Debounce to avoid multiple reloads for rapid changes
		var debounceTimer *time.Timer
		debounceDuration := 500 * time.Millisecond

		for {
			select {
			case event, ok := <-cw.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(cw.configPath) {
					continue
				}
				if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
					if debounceTimer != nil {
						debounceTimer.Stop()
					}
					debounceTimer = time.AfterFunc(debounceDuration, cw.reload)
				}

			case err, ok := <-cw.watcher.Errors:
				if !ok {
					return
				}
				log.Printf("config watcher error: %v", err)

			case <-cw.stopChan:
				return
			}
		}
	}()

	return nil
}

// reload re-reads the config and rotates the token if it changed.
func (cw *ConfigWatcher) reload() {
	cfg, err := LoadConfigFrom(cw.configPath)
	if err != nil {
		log.Printf("failed to reload config: %v", err)
		return
	}

	if cfg.Auth.Token == cw.lastToken {
		return
	}
	cw.lastToken = cfg.Auth.Token

	log.Printf("config token changed, reauthenticating")
	if err := cw.rotateFunc(cfg.Auth.Token); err != nil {
		log.Printf("failed to rotate token: %v", err)
	}
}

// Stop stops the watcher.
func (cw *ConfigWatcher) Stop() {
	close(cw.stopChan)
	cw.watcher.Close()
}
