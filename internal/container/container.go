package container

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"sip-core/api"
	"sip-core/config"
	"sip-core/flow"
	"sip-core/infrastructure/alert"
	"sip-core/infrastructure/logger"
	"sip-core/infrastructure/monitor"
	hotreload "sip-core/internal/config"
	"sip-core/internal/store"
	"sip-core/sipconfig"
)

// 同一告警一分钟内只发送一次
const alertThrottle = time.Minute

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	// 配置
	cfg *config.AppConfig

	// 基础设施
	logger  *logger.Logger
	monitor *monitor.Monitor
	alerts  *alert.Manager

	// 核心服务
	store *store.Store
	hub   *api.Hub
	api   *api.Server

	// HTTP服务器
	httpServer    *httpServerComponent
	metricsServer *httpServerComponent

	// 生命周期管理
	lifecycle *LifecycleManager
}

// New 创建新的Container实例；configPath 为空时只使用默认值与环境变量
func New(configPath string) (*Container, error) {
	var (
		cfg config.AppConfig
		err error
	)
	if configPath == "" {
		cfg, err = config.FromEnv()
	} else {
		cfg, err = config.LoadWithEnvOverrides(configPath)
	}
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	return NewWithConfig(cfg), nil
}

// NewWithConfig 使用已加载的配置创建 Container
func NewWithConfig(cfg config.AppConfig) *Container {
	return &Container{
		cfg:       &cfg,
		lifecycle: NewLifecycleManager(),
	}
}

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}

	if err := config.ValidateParams(*c.cfg); err != nil {
		c.logger.Warn(fmt.Sprintf("config params: %v", err))
	}

	if err := c.buildStore(); err != nil {
		return fmt.Errorf("build store failed: %w", err)
	}

	c.buildAPI()

	if err := c.registerLifecycleComponents(); err != nil {
		return fmt.Errorf("register components failed: %w", err)
	}
	c.logger.Info("container built successfully")
	return nil
}

func (c *Container) buildInfrastructure() error {
	var err error
	c.logger, err = logger.New(c.cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}

	c.monitor = monitor.New(monitor.DefaultConfig())
	c.alerts = alert.NewManager([]alert.Channel{alert.NewLogChannel("log", c.logger)}, alertThrottle)

	c.logger.Info("infrastructure built")
	return nil
}

func (c *Container) buildStore() error {
	st, err := store.Open(c.cfg.Store.Path)
	if err != nil {
		return err
	}
	c.store = st

	// 条目变化时刷新配置概要指标
	st.Subscribe(func(event string, e store.Entry) {
		if e.Domain == flow.Domain {
			c.refreshConfigGauges()
		}
	})
	c.refreshConfigGauges()

	c.logger.Info(fmt.Sprintf("store opened (%d entries)", len(st.Entries())))
	return nil
}

func (c *Container) buildAPI() {
	c.hub = api.NewHub(func() (sipconfig.SipConfiguration, error) {
		return c.store.SipConfig(flow.Domain)
	}, c.logger, c.monitor)
	c.store.Subscribe(c.hub.OnStoreEvent)

	c.api = api.NewServer(c.store, c.hub, c.logger, c.monitor, api.Options{
		Env:        c.cfg.Env,
		StaticDir:  c.cfg.HTTP.StaticDir,
		CORSOrigin: c.cfg.HTTP.CORSOrigin,
		Health:     c.HealthCheck,
	})
}

func (c *Container) registerLifecycleComponents() error {
	// 热更新先于 HTTP 启动，首个请求即可看到覆盖文件中的配置
	if c.cfg.Reload.Path != "" {
		applier := &entryApplier{store: c.store}
		switch c.cfg.Reload.Mode {
		case config.ReloadModePoll:
			c.lifecycle.Register("reload_poll", &pollReloadComponent{
				watcher: config.Watcher{
					Path:     c.cfg.Reload.Path,
					Interval: time.Duration(c.cfg.Reload.IntervalMs) * time.Millisecond,
				},
				apply: func(cfg sipconfig.SipConfiguration, err error) {
					if err == nil {
						err = applier.Apply(cfg)
					}
					c.recordReload(err)
					c.logger.LogReload(c.cfg.Reload.Path, err == nil, err)
				},
			})
		default:
			reloader, err := hotreload.NewHotReloader(c.cfg.Reload.Path, hotreload.HotReloadConfig{
				Enabled:      true,
				CooldownTime: time.Duration(c.cfg.Reload.CooldownMs) * time.Millisecond,
			}, c.logger)
			if err != nil {
				return err
			}
			reloader.RegisterValidator(sipconfig.OptionKey, &hotreload.SipConfigValidator{})
			reloader.RegisterApplier(sipconfig.OptionKey, applier)
			reloader.OnResult(func(applied bool, err error) { c.recordReload(err) })
			c.lifecycle.Register("reload_notify", &notifyReloadComponent{reloader: reloader})
		}
	}

	c.httpServer = &httpServerComponent{
		name:    "http_server",
		handler: c.api.Handler(),
		addr:    c.cfg.HTTP.Addr,
		logger:  c.logger,
	}
	c.lifecycle.Register("http_server", c.httpServer)

	if c.cfg.Metrics.Addr != "" {
		c.metricsServer = &httpServerComponent{
			name:    "metrics_server",
			handler: c.monitor.Handler(),
			addr:    c.cfg.Metrics.Addr,
			logger:  c.logger,
		}
		c.lifecycle.Register("metrics_server", c.metricsServer)
	}
	return nil
}

func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")

	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}

	c.logger.Info("container started")
	return nil
}

func (c *Container) Stop() error {
	c.logger.Info("stopping container...")

	// 先断开推送连接，否则 Shutdown 会等待 websocket 超时
	c.hub.Close()

	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}

	c.logger.Info("container stopped")
	_ = c.logger.Close()
	return err
}

func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

// Handler 返回 HTTP 路由（测试用）
func (c *Container) Handler() http.Handler {
	return c.api.Handler()
}

// HTTPAddr 返回 HTTP 服务实际监听地址
func (c *Container) HTTPAddr() string {
	return c.httpServer.Addr()
}

// Store 返回条目存储
func (c *Container) Store() *store.Store {
	return c.store
}

func (c *Container) refreshConfigGauges() {
	cfg, err := c.store.SipConfig(flow.Domain)
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "refresh_gauges"})
		_ = c.alerts.SendError("stored sip_config invalid", map[string]interface{}{
			"problems": sipconfig.Messages(err),
		})
		return
	}
	c.monitor.UpdateConfig(len(cfg.Extensions), len(cfg.Buttons), cfg.HeartbeatIntervalMs)
}

func (c *Container) recordReload(err error) {
	if err != nil {
		c.monitor.RecordReload("rejected")
		_ = c.alerts.SendWarning("sip_config override rejected", map[string]interface{}{
			"path":  c.cfg.Reload.Path,
			"error": err.Error(),
		})
		return
	}
	c.monitor.RecordReload("applied")
}

// entryApplier 把覆盖文件中的 sip_config 写入条目选项；条目不存在时创建
type entryApplier struct {
	store *store.Store
}

func (a *entryApplier) ApplyParameters(params map[string]interface{}) error {
	cfg, err := sipconfig.Validate(params)
	if err != nil {
		return err
	}
	return a.Apply(cfg)
}

func (a *entryApplier) Apply(cfg sipconfig.SipConfiguration) error {
	entry, ok := a.store.Lookup(flow.Domain)
	if !ok {
		_, err := a.store.Create(flow.Domain, flow.Title, flow.Version,
			map[string]interface{}{},
			map[string]interface{}{sipconfig.OptionKey: cfg.ToMap()})
		return err
	}
	options := make(map[string]interface{}, len(entry.Options)+1)
	for k, v := range entry.Options {
		options[k] = v
	}
	options[sipconfig.OptionKey] = cfg.ToMap()
	_, err := a.store.UpdateOptions(entry.ID, options)
	return err
}
