package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"backtest-go/infrastructure/logger"
)

// Watcher 监听配置文件变化，重新加载成功后回调。
// 监听所在目录，以兼容编辑器先写临时文件再 rename 的保存方式。
type Watcher struct {
	path     string
	cooldown time.Duration
	watcher  *fsnotify.Watcher
	logger   *logger.Logger

	mu         sync.Mutex
	lastReload time.Time
	onUpdate   func(AppConfig)

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewWatcher cooldown 内的重复事件被忽略。
func NewWatcher(path string, cooldown time.Duration, log *logger.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Watcher{
		path:     filepath.Clean(path),
		cooldown: cooldown,
		watcher:  fw,
		logger:   log.Named("config"),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

// Start 启动监听，onUpdate 在监听 goroutine 中调用。
func (w *Watcher) Start(ctx context.Context, onUpdate func(AppConfig)) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch config file: %w", err)
	}
	w.mu.Lock()
	w.onUpdate = onUpdate
	w.mu.Unlock()
	go w.watch(ctx)
	return nil
}

// Stop 停止监听并关闭 fsnotify。
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() { close(w.stopChan) })
	select {
	case <-w.doneChan:
	case <-time.After(time.Second):
		// watch goroutine 未启动
	}
	return w.watcher.Close()
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.doneChan)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.lastReload.IsZero() && time.Since(w.lastReload) < w.cooldown {
		return
	}
	cfg, err := LoadWithEnvOverrides(w.path)
	if err != nil {
		// 写入过程中可能读到半个文件，等下一个事件
		w.logger.Warn("Failed to reload config", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.lastReload = time.Now()
	w.logger.Info("Config reloaded", zap.String("path", w.path))
	if w.onUpdate != nil {
		w.onUpdate(cfg)
	}
}
