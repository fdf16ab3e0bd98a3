package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"mockdriver/internal/logger"
	"mockdriver/internal/pattern"
	"mockdriver/internal/rules"
	"mockdriver/pkg/model"
)

// FileStore 基于 viper 的只读配置源，配置文件变化时重新加载并通知订阅者
type FileStore struct {
	v    *viper.Viper
	path string
	cur  atomic.Pointer[model.Settings]
	log  logger.Logger

	mu       sync.Mutex
	onChange []func()
	watching bool
}

// Open 加载配置文件。文件必须存在；内容无效时返回错误，不做部分加载
func Open(path string, l logger.Logger) (*FileStore, error) {
	if l == nil {
		l = logger.NewNop()
	}
	v := viper.New()
	v.SetConfigFile(path)
	s := &FileStore{v: v, path: path, log: l}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Get 当前配置的副本
func (s *FileStore) Get(context.Context) (*model.Settings, error) {
	cur := s.cur.Load()
	if cur == nil {
		return nil, rules.ErrNoSettings
	}
	return cur.Clone(), nil
}

// Path 配置文件路径
func (s *FileStore) Path() string { return s.path }

// Reload 重新读取配置文件。读取失败时保留上一份配置
func (s *FileStore) Reload() error {
	if err := s.v.ReadInConfig(); err != nil {
		return fmt.Errorf("read settings %s: %w", s.path, err)
	}
	next, err := Decode(s.v)
	if err != nil {
		return err
	}
	s.cur.Store(next)
	return nil
}

// OnChange 注册配置变化回调
func (s *FileStore) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// Watch 开始监听配置文件，重复调用无副作用
func (s *FileStore) Watch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watching {
		return
	}
	s.watching = true
	s.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		if err := s.Reload(); err != nil {
			s.log.Err(err, "重新加载配置失败，沿用上一份配置", "file", e.Name)
			return
		}
		s.log.Info("配置已更新", "file", e.Name)
		s.notify()
	})
	s.v.WatchConfig()
}

func (s *FileStore) notify() {
	s.mu.Lock()
	fns := append([]func(){}, s.onChange...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Decode 将 viper 内容解码为配置
func Decode(v *viper.Viper) (*model.Settings, error) {
	out := &model.Settings{}
	if err := v.Unmarshal(out); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return out, nil
}

// Validate 在 Settings.Validate 之外检查标签页模式能否编译
func Validate(s *model.Settings) error {
	errs := []error{s.Validate()}
	if s.RestrictToTabURLs {
		for _, p := range pattern.Lines(s.TabURLPatterns) {
			if _, err := pattern.Compile(p); err != nil {
				errs = append(errs, fmt.Errorf("tab url pattern %q: %w", p, err))
			}
		}
	}
	return errors.Join(errs...)
}
