package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/forever-free1/TideIKV/buffer"
	"github.com/forever-free1/TideIKV/ffi"
	"github.com/forever-free1/TideIKV/handle"
	"github.com/forever-free1/TideIKV/raft"
	"github.com/forever-free1/TideIKV/watch"
)

// defaultMaxEventSize 单个数据事件请求体的默认上限
const defaultMaxEventSize = 16 << 20

// ==================== Handler 定义 ====================

// Handler 管理接口的请求处理器
// 所有读取都经过 ffi.Surface，与 C 调用方走同一条路径
type Handler struct {
	surface      *ffi.Surface
	maxEventSize int64

	// 通过 Raft 复制写入的句柄
	mu    sync.RWMutex
	nodes map[handle.Handle]*raft.Node
}

// NewHandler 创建新的 Handler
func NewHandler(surface *ffi.Surface) *Handler {
	return &Handler{
		surface:      surface,
		maxEventSize: defaultMaxEventSize,
		nodes:        make(map[handle.Handle]*raft.Node),
	}
}

// Replicate 让句柄 h 的数据事件经过 Raft 提交
func (h *Handler) Replicate(hd handle.Handle, node *raft.Node) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nodes[hd] = node
}

// ==================== API 路由 ====================

// RegisterRoutes 注册所有路由
func (h *Handler) RegisterRoutes(engine *gin.Engine) {
	engine.GET("/health", h.HealthCheck)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.surface.Metrics().Registry(), promhttp.HandlerOpts{})))

	v1 := engine.Group("/v1")
	{
		handles := v1.Group("/handles")
		{
			handles.GET("", h.ListHandles)
			handles.GET("/:handle/field", h.GetField)
			handles.POST("/:handle/events", h.ProcessEvent)
			handles.POST("/:handle/flush", h.Flush)
			handles.POST("/:handle/compact", h.Compact)
			handles.DELETE("/:handle", h.CloseHandle)
		}

		// Watch API (SSE 长连接)
		v1.GET("/watch", h.Watch)
	}
}

// ==================== API 处理函数 ====================

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"handles": len(h.surface.Sessions()),
		"time":    time.Now().Unix(),
	})
}

// ListHandles 列出所有打开的句柄
// GET /v1/handles
func (h *Handler) ListHandles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"handles": h.surface.Sessions(),
	})
}

func parseHandle(c *gin.Context) (handle.Handle, bool) {
	v, err := strconv.ParseInt(c.Param("handle"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid handle: " + c.Param("handle")})
		return handle.Invalid, false
	}
	return handle.Handle(v), true
}

// GetField 读取一个字段值
// GET /v1/handles/:handle/field?key=xxx&field=yyy[&format=raw]
func (h *Handler) GetField(c *gin.Context) {
	hd, ok := parseHandle(c)
	if !ok {
		return
	}
	key, field := c.Query("key"), c.Query("field")
	if key == "" || field == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key and field are required"})
		return
	}

	b := h.surface.GetFieldValue(hd, []byte(key), field)
	if !b.IsPresent() {
		c.JSON(statusCode(b.Status()), gin.H{
			"error":  buffer.StatusText(b.Status()),
			"status": b.Status(),
		})
		return
	}
	value := buffer.Bytes(b)
	h.surface.FreeBytesBuffer(b)

	if c.Query("format") == "raw" {
		c.Data(http.StatusOK, "application/octet-stream", value)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"key":   key,
		"field": field,
		"value": string(value),
	})
}

func statusCode(status int32) int {
	switch status {
	case buffer.StatusNotFound, buffer.StatusInvalidHandle:
		return http.StatusNotFound
	case buffer.StatusInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ProcessEvent 应用一条 msgpack 数据事件
// POST /v1/handles/:handle/events
func (h *Handler) ProcessEvent(c *gin.Context) {
	hd, ok := parseHandle(c)
	if !ok {
		return
	}

	// 多读一个字节，用来区分恰好等于上限和超过上限
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, h.maxEventSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body: " + err.Error()})
		return
	}
	if int64(len(body)) > h.maxEventSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": fmt.Sprintf("event exceeds %d bytes", h.maxEventSize),
		})
		return
	}

	h.mu.RLock()
	node := h.nodes[hd]
	h.mu.RUnlock()

	if node != nil {
		err = node.ApplyBytes(body)
	} else {
		err = h.surface.ProcessDataEvent(hd, body)
	}
	if err != nil {
		code := http.StatusBadRequest
		switch {
		case errors.Is(err, handle.ErrInvalidHandle):
			code = http.StatusNotFound
		case errors.Is(err, raft.ErrNotLeader):
			code = http.StatusConflict
		}
		c.JSON(code, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

// Flush 将写入同步到磁盘
// POST /v1/handles/:handle/flush
func (h *Handler) Flush(c *gin.Context) {
	hd, ok := parseHandle(c)
	if !ok {
		return
	}
	if err := h.surface.FlushWrites(hd); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, handle.ErrInvalidHandle) {
			code = http.StatusNotFound
		}
		c.JSON(code, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

// Compact 合并数据文件，只保留存活的值
// POST /v1/handles/:handle/compact
func (h *Handler) Compact(c *gin.Context) {
	hd, ok := parseHandle(c)
	if !ok {
		return
	}
	st, err := h.surface.CompactIndex(hd)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, handle.ErrInvalidHandle) {
			code = http.StatusNotFound
		}
		c.JSON(code, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

// CloseHandle 关闭句柄
// DELETE /v1/handles/:handle
func (h *Handler) CloseHandle(c *gin.Context) {
	hd, ok := parseHandle(c)
	if !ok {
		return
	}
	if _, err := h.surface.Session(hd); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	h.mu.Lock()
	delete(h.nodes, hd)
	h.mu.Unlock()

	h.surface.CloseIndex(hd)
	c.JSON(http.StatusOK, gin.H{"message": "ok", "handle": hd})
}

// ==================== Watch (SSE) ====================

// Watch 处理 Watch 请求
// GET /v1/watch?prefix=xxx
// 使用 Server-Sent Events (SSE) 推送字段变更
func (h *Handler) Watch(c *gin.Context) {
	hub := h.surface.WatchHub()
	if hub == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "watch is disabled"})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	watcher := hub.Watch(c.DefaultQuery("prefix", ""), 1000)
	defer hub.Unregister(watcher)

	clientGone := c.Request.Context().Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	c.Status(http.StatusOK)
	fmt.Fprintf(c.Writer, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-clientGone:
			return

		case event, open := <-watcher.Ch:
			if !open {
				return
			}
			data, err := watch.EventToJSON(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(c.Writer, "data: %s\n\n", data)
			flusher.Flush()

		case <-ticker.C:
			fmt.Fprintf(c.Writer, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

// ==================== 服务器启动 ====================

// Server HTTP 服务器
type Server struct {
	addr    string
	engine  *gin.Engine
	handler *Handler
	srv     *http.Server
}

// NewServer 创建新的 Server
func NewServer(addr string, surface *ffi.Surface) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	handler := NewHandler(surface)
	handler.RegisterRoutes(engine)

	return &Server{
		addr:    addr,
		engine:  engine,
		handler: handler,
		srv:     &http.Server{Addr: addr, Handler: engine},
	}
}

// Handler 返回请求处理器
func (s *Server) Handler() *Handler {
	return s.handler
}

// Start 启动服务器，直到 Close 后返回 http.ErrServerClosed
func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

// Close 关闭服务器
func (s *Server) Close() error {
	return s.srv.Close()
}

// ServeHTTP 实现 http.Handler 接口
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}
