package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"sip-core/flow"
	"sip-core/infrastructure/logger"
	"sip-core/infrastructure/monitor"
	"sip-core/internal/store"
	"sip-core/sipconfig"
)

// Options 服务参数
type Options struct {
	Env        string // production 时 gin 使用 release 模式
	StaticDir  string // sip_core.js 所在目录
	CORSOrigin string
	Health     func() error
}

// Server 把 flow 与配置读取暴露为 HTTP 接口
type Server struct {
	store   *store.Store
	hub     *Hub
	log     *logger.Logger
	monitor *monitor.Monitor
	opts    Options
	engine  *gin.Engine
}

// ErrorBody 是 4xx/5xx 的响应体
type ErrorBody struct {
	Error   string   `json:"error"`
	Message string   `json:"message,omitempty"`
	Details []string `json:"details,omitempty"`
}

// ValidationProblem 对应一个 sipconfig.ValidationError
type ValidationProblem struct {
	Kind    string `json:"kind"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// ValidateResponse 是 POST /validate 的响应体
type ValidateResponse struct {
	Valid    bool                        `json:"valid"`
	Config   *sipconfig.SipConfiguration `json:"config,omitempty"`
	Errors   []ValidationProblem         `json:"errors,omitempty"`
	Warnings []string                    `json:"warnings,omitempty"`
}

// NewServer builds the router. mon must not be nil.
func NewServer(st *store.Store, hub *Hub, log *logger.Logger, mon *monitor.Monitor, opts Options) *Server {
	if log == nil {
		log = logger.Nop()
	}
	if opts.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{store: st, hub: hub, log: log, monitor: mon, opts: opts}

	router := gin.New()
	router.Use(gin.Recovery(), requestLog(log))

	v1 := router.Group("/api/" + flow.Domain)
	v1.Use(CORS(opts.CORSOrigin))

	v1.GET("/flow/user", s.configFlow)
	v1.POST("/flow/user", s.configFlow)
	v1.OPTIONS("/flow/user", s.configFlow)

	v1.GET("/options", s.optionsFlow)
	v1.POST("/options", s.optionsFlow)
	v1.OPTIONS("/options", s.optionsFlow)

	v1.POST("/validate", s.validate)
	v1.OPTIONS("/validate", s.validate)

	v1.GET("/config", s.config)
	v1.GET("/ws", s.websocket)

	router.GET(flow.JSURLPath, s.asset)
	router.GET("/healthz", s.healthz)
	router.GET("/metrics", gin.WrapH(mon.Handler()))

	s.engine = router
	return s
}

// Handler 返回 http.Handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) configFlow(c *gin.Context) {
	f := flow.NewConfigFlow(newHTTPHost(), s.store, s.log, s.monitor)
	s.runStep(c, f)
}

func (s *Server) optionsFlow(c *gin.Context) {
	f := flow.NewOptionsFlow(newHTTPHost(), s.store, s.log, s.monitor)
	s.runStep(c, f)
}

// runStep GET 展示表单，POST 提交用户输入
func (s *Server) runStep(c *gin.Context, step flow.Stepper) {
	var input map[string]any
	if c.Request.Method == http.MethodPost {
		body, err := decodeBody(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorBody{Error: sipconfig.ErrorCode, Message: err.Error()})
			return
		}
		m, ok := body.(map[string]any)
		if body != nil && !ok {
			c.JSON(http.StatusBadRequest, ErrorBody{Error: sipconfig.ErrorCode, Message: "body must be an object"})
			return
		}
		if m == nil {
			m = map[string]any{}
		}
		input = m
	}

	result, err := step.Step(c.Request.Context(), input)
	if err != nil {
		s.log.LogError(err, map[string]interface{}{"path": c.FullPath()})
		c.JSON(http.StatusInternalServerError, ErrorBody{Error: "internal_error", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) validate(c *gin.Context) {
	body, err := decodeBody(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorBody{Error: sipconfig.ErrorCode, Message: err.Error()})
		return
	}

	cfg, err := sipconfig.Validate(body)
	if err != nil {
		problems := sipconfig.Errors(err)
		kinds := make([]string, 0, len(problems))
		resp := ValidateResponse{Valid: false}
		for _, p := range problems {
			kinds = append(kinds, p.Kind.String())
			resp.Errors = append(resp.Errors, ValidationProblem{Kind: p.Kind.String(), Path: p.Path, Message: p.Message})
		}
		s.monitor.RecordValidation("api", kinds)
		s.log.LogValidation("api", sipconfig.Messages(err), nil)
		c.JSON(http.StatusUnprocessableEntity, resp)
		return
	}

	warnings := sipconfig.Lint(cfg)
	s.monitor.RecordValidation("api", nil)
	s.log.LogValidation("api", nil, warnings)
	c.JSON(http.StatusOK, ValidateResponse{Valid: true, Config: &cfg, Warnings: warnings})
}

func (s *Server) config(c *gin.Context) {
	cfg, err := s.store.SipConfig(flow.Domain)
	if err != nil {
		s.log.LogError(err, map[string]interface{}{"path": c.FullPath()})
		c.JSON(http.StatusInternalServerError, ErrorBody{Error: sipconfig.ErrorCode, Details: sipconfig.Messages(err)})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) websocket(c *gin.Context) {
	if s.hub == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorBody{Error: "push_disabled"})
		return
	}
	s.hub.ServeWS(c.Writer, c.Request)
}

func (s *Server) asset(c *gin.Context) {
	if s.opts.StaticDir == "" {
		c.Status(http.StatusNotFound)
		return
	}
	path := filepath.Join(s.opts.StaticDir, flow.JSFilename)
	if _, err := os.Stat(path); err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	c.Header("Content-Type", "application/javascript")
	c.File(path)
}

func (s *Server) healthz(c *gin.Context) {
	if s.opts.Health != nil {
		if err := s.opts.Health(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// decodeBody 解析 JSON 请求体；空请求体返回 nil
func decodeBody(c *gin.Context) (any, error) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, errors.New("malformed JSON body: " + err.Error())
	}
	return body, nil
}
