package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"footprint-engine/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SuspectChecker 查询交易对是否因序列错误被标记为可疑 (DataEngine 实现)
type SuspectChecker interface {
	Suspect(symbol string) error
}

// HealthResponse /health 的响应体
type HealthResponse struct {
	Status  string            `json:"status"` // ok | degraded
	Service string            `json:"service"`
	RunID   string            `json:"runId"`
	Suspect map[string]string `json:"suspect,omitempty"`
}

// Server 只暴露运维接口: /health 与 /metrics
type Server struct {
	srv     *http.Server
	checker SuspectChecker
	symbols []string
	runID   string
}

func New(addr, runID string, symbols []string, checker SuspectChecker) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{checker: checker, symbols: symbols, runID: runID}

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler 用于测试
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) health(c *gin.Context) {
	resp := HealthResponse{Status: "ok", Service: "footprint-engine", RunID: s.runID}
	for _, symbol := range s.symbols {
		if err := s.checker.Suspect(symbol); err != nil {
			if resp.Suspect == nil {
				resp.Suspect = make(map[string]string)
			}
			resp.Suspect[symbol] = err.Error()
		}
	}
	if len(resp.Suspect) > 0 {
		resp.Status = "degraded"
	}
	c.JSON(http.StatusOK, resp)
}

// Run 阻塞直到 ctx 结束，然后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		service.Logger.Info("Ops server listening", zap.String("Addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	service.Logger.Info("Ops server stopped")
	return nil
}
