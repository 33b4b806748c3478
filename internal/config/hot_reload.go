package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"sip-core/infrastructure/logger"
	"sip-core/sipconfig"
)

// HotReloadConfig 热更新配置
type HotReloadConfig struct {
	Enabled      bool          // 是否启用热更新
	CooldownTime time.Duration // 冷却时间，避免频繁更新
}

// DefaultHotReloadConfig 默认热更新配置
func DefaultHotReloadConfig() HotReloadConfig {
	return HotReloadConfig{
		Enabled:      true,
		CooldownTime: time.Second,
	}
}

// ParameterValidator 参数验证器接口
type ParameterValidator interface {
	Validate(params map[string]interface{}) error
}

// ParameterApplier 参数应用器接口
type ParameterApplier interface {
	ApplyParameters(params map[string]interface{}) error
}

// HotReloader 监听覆盖文件，按类别校验并应用其中的参数。
// 文件顶层键即类别名（如 sip_config）；若文件本身就是一个 sip_config
// 文档，则整体作为 sip_config 类别处理。
type HotReloader struct {
	config     HotReloadConfig
	configPath string
	watcher    *fsnotify.Watcher
	validators map[string]ParameterValidator
	appliers   map[string]ParameterApplier
	lastReload time.Time
	started    bool
	pending    *time.Timer
	pendingWG  sync.WaitGroup
	mu         sync.RWMutex
	stopChan   chan struct{}
	doneChan   chan struct{}
	log        *logger.Logger
	onResult   func(applied bool, err error)
}

// NewHotReloader 创建热更新器
func NewHotReloader(configPath string, cfg HotReloadConfig, log *logger.Logger) (*HotReloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if log == nil {
		log = logger.Nop()
	}

	return &HotReloader{
		config:     cfg,
		configPath: filepath.Clean(configPath),
		watcher:    watcher,
		validators: make(map[string]ParameterValidator),
		appliers:   make(map[string]ParameterApplier),
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
		log:        log,
	}, nil
}

// RegisterValidator 注册参数验证器
func (h *HotReloader) RegisterValidator(name string, validator ParameterValidator) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.validators[name] = validator
}

// RegisterApplier 注册参数应用器
func (h *HotReloader) RegisterApplier(name string, applier ParameterApplier) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.appliers[name] = applier
}

// OnResult 设置每次重载结果的回调（指标用）
func (h *HotReloader) OnResult(fn func(applied bool, err error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onResult = fn
}

// Start 启动热更新监听
func (h *HotReloader) Start(ctx context.Context) error {
	if !h.config.Enabled {
		return nil
	}

	// 监听所在目录：编辑器常以 rename 方式替换文件，直接监听文件会丢失
	if err := h.watcher.Add(filepath.Dir(h.configPath)); err != nil {
		return fmt.Errorf("failed to watch config dir: %w", err)
	}

	h.mu.Lock()
	h.started = true
	h.mu.Unlock()
	go h.watch(ctx)

	return nil
}

// Stop 停止热更新
func (h *HotReloader) Stop() error {
	if !h.config.Enabled {
		if h.watcher != nil {
			return h.watcher.Close()
		}
		return nil
	}

	select {
	case <-h.stopChan:
	default:
		close(h.stopChan)
	}

	h.mu.RLock()
	started := h.started
	h.mu.RUnlock()
	if started {
		// 等待 goroutine 结束（带超时）
		select {
		case <-h.doneChan:
		case <-time.After(1 * time.Second):
		}
	}

	// 取消尚未触发的延迟重载；已在执行的等它结束
	h.mu.Lock()
	if h.pending != nil && h.pending.Stop() {
		h.pending = nil
		h.pendingWG.Done()
	}
	h.mu.Unlock()
	h.pendingWG.Wait()

	if h.watcher != nil {
		return h.watcher.Close()
	}

	return nil
}

// watch 监听文件变化
func (h *HotReloader) watch(ctx context.Context) {
	defer close(h.doneChan)

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopChan:
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != h.configPath {
				continue
			}
			// 只处理写入和创建事件
			if event.Op&fsnotify.Write == fsnotify.Write ||
				event.Op&fsnotify.Create == fsnotify.Create {
				h.handleConfigChange()
			}

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			// 记录错误但继续监听
			h.log.LogError(err, map[string]interface{}{"component": "hot_reload"})
		}
	}
}

// handleConfigChange 处理配置变化。冷却期内的修改不丢弃，
// 冷却结束后重新读取一次文件，连续写入时最终落盘的内容一定会被应用。
func (h *HotReloader) handleConfigChange() {
	h.mu.Lock()
	remaining := h.config.CooldownTime - time.Since(h.lastReload)
	if remaining > 0 {
		if h.pending == nil {
			h.pendingWG.Add(1)
			h.pending = time.AfterFunc(remaining, h.reloadPending)
		}
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	_ = h.Reload()
}

// reloadPending 冷却结束后执行延迟的重载
func (h *HotReloader) reloadPending() {
	defer h.pendingWG.Done()

	h.mu.Lock()
	h.pending = nil
	h.mu.Unlock()

	select {
	case <-h.stopChan:
		return
	default:
	}
	_ = h.Reload()
}

// Reload 立即读取并应用覆盖文件。失败时之前的配置保持不变。
func (h *HotReloader) Reload() error {
	err := h.reload()
	applied := err == nil

	h.mu.Lock()
	if applied {
		h.lastReload = time.Now()
	}
	onResult := h.onResult
	h.mu.Unlock()

	h.log.LogReload(h.configPath, applied, err)
	if onResult != nil {
		onResult(applied, err)
	}
	return err
}

func (h *HotReloader) reload() error {
	raw, err := os.ReadFile(h.configPath)
	if err != nil {
		return fmt.Errorf("read override: %w", err)
	}
	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse override: %w", err)
	}
	if doc == nil {
		return fmt.Errorf("override %s is empty", h.configPath)
	}

	h.mu.RLock()
	categories := make([]string, 0, len(h.appliers))
	for name := range h.appliers {
		categories = append(categories, name)
	}
	h.mu.RUnlock()

	found := false
	for _, category := range categories {
		params, ok := doc[category].(map[string]interface{})
		if !ok && category == sipconfig.OptionKey && isBareSipConfig(doc) {
			params, ok = doc, true
		}
		if !ok {
			continue
		}
		found = true
		if err := h.ApplyParameters(category, params); err != nil {
			return fmt.Errorf("%s: %w", category, err)
		}
	}
	if !found {
		return fmt.Errorf("override %s has no known category", h.configPath)
	}
	return nil
}

// isBareSipConfig 顶层出现任一 sip_config 字段即视为裸文档，
// 缺失的字段交给校验器报告
func isBareSipConfig(doc map[string]interface{}) bool {
	for _, key := range []string{sipconfig.KeyExtensions, sipconfig.KeyButtons, sipconfig.KeyHeartbeat} {
		if _, ok := doc[key]; ok {
			return true
		}
	}
	return false
}

// ValidateParameters 验证参数
func (h *HotReloader) ValidateParameters(category string, params map[string]interface{}) error {
	h.mu.RLock()
	validator, ok := h.validators[category]
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no validator registered for category: %s", category)
	}

	return validator.Validate(params)
}

// ApplyParameters 应用参数
func (h *HotReloader) ApplyParameters(category string, params map[string]interface{}) error {
	// 先验证
	if err := h.ValidateParameters(category, params); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	// 再应用
	h.mu.RLock()
	applier, ok := h.appliers[category]
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no applier registered for category: %s", category)
	}

	return applier.ApplyParameters(params)
}

// GetLastReloadTime 获取最后重载时间
func (h *HotReloader) GetLastReloadTime() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastReload
}

// SipConfigValidator 校验 sip_config 类别
type SipConfigValidator struct{}

func (v *SipConfigValidator) Validate(params map[string]interface{}) error {
	_, err := sipconfig.Validate(params)
	return err
}
