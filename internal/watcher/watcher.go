// Package watcher provides file system monitoring for the gateway
// configuration file. When config.yaml changes it reloads the file,
// re-applies the log level, and hands the new configuration to a callback
// so the server can pick up key rotations without a restart.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/vramgate/vramgate/internal/config"
	"github.com/vramgate/vramgate/internal/logging"
)

// Watcher monitors the configuration file for changes.
type Watcher struct {
	configPath     string
	config         *config.Config
	mu             sync.Mutex
	reloadCallback func(*config.Config)
	watcher        *fsnotify.Watcher
	lastHash       string
}

// NewWatcher creates a watcher for the given config file. The callback runs
// after every successful reload.
func NewWatcher(configPath string, cfg *config.Config, reloadCallback func(*config.Config)) (*Watcher, error) {
	fsWatcher, errNewWatcher := fsnotify.NewWatcher()
	if errNewWatcher != nil {
		return nil, errNewWatcher
	}

	return &Watcher{
		configPath:     configPath,
		config:         cfg,
		reloadCallback: reloadCallback,
		watcher:        fsWatcher,
	}, nil
}

// Start begins watching the configuration file. It returns once the event
// goroutine is running.
func (w *Watcher) Start(ctx context.Context) error {
	if errAdd := w.watcher.Add(w.configPath); errAdd != nil {
		log.Errorf("failed to watch config file %s: %v", w.configPath, errAdd)
		return errAdd
	}
	log.Debugf("watching config file: %s", w.configPath)

	go w.processEvents(ctx)
	return nil
}

// Stop stops the file watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case errWatch, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("file watcher error: %v", errWatch)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Name != w.configPath {
		return
	}
	if event.Op&fsnotify.Write != fsnotify.Write && event.Op&fsnotify.Create != fsnotify.Create {
		return
	}

	data, err := os.ReadFile(w.configPath)
	if err != nil {
		log.Errorf("failed to read config file for hash check: %v", err)
		return
	}
	// Editors often truncate before rewriting; wait for the write with content.
	if len(data) == 0 {
		log.Debugf("ignoring empty config file write event")
		return
	}
	sum := sha256.Sum256(data)
	newHash := hex.EncodeToString(sum[:])

	w.mu.Lock()
	unchanged := w.lastHash != "" && w.lastHash == newHash
	w.mu.Unlock()
	if unchanged {
		log.Debugf("config file content unchanged (hash match), skipping reload")
		return
	}

	log.Infof("config file changed, reloading: %s", w.configPath)
	if w.reloadConfig() {
		w.mu.Lock()
		w.lastHash = newHash
		w.mu.Unlock()
	}
}

// reloadConfig reloads the configuration and applies the hot-reloadable
// parts. Port, model inventory, and log file settings need a restart; a
// change there is logged and ignored.
func (w *Watcher) reloadConfig() bool {
	newConfig, errLoad := config.LoadConfig(w.configPath)
	if errLoad != nil {
		log.Errorf("failed to reload config, keeping previous: %v", errLoad)
		return false
	}

	w.mu.Lock()
	oldConfig := w.config
	w.config = newConfig
	w.mu.Unlock()

	logging.SetLogLevel(newConfig)
	if oldConfig != nil {
		if oldConfig.Debug != newConfig.Debug {
			log.Infof("debug mode changed from %t to %t", oldConfig.Debug, newConfig.Debug)
		}
		if oldConfig.Port != newConfig.Port {
			log.Warnf("port changed from %d to %d; restart required to take effect", oldConfig.Port, newConfig.Port)
		}
		if len(oldConfig.Models) != len(newConfig.Models) {
			log.Warnf("model count changed from %d to %d; restart required to take effect", len(oldConfig.Models), len(newConfig.Models))
		}
	}

	if w.reloadCallback != nil {
		w.reloadCallback(newConfig)
	}
	return true
}
