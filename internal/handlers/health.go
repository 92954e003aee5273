package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/3Eeeecho/go-dropshare/internal/pkg/xerr"
	"github.com/gin-gonic/gin"
)

// Pinger 返回各依赖的健康状态，由 metadata.Store 实现
type Pinger interface {
	Ping(ctx context.Context) map[string]error
}

type HealthHandler struct {
	pinger  Pinger
	timeout time.Duration
}

func NewHealthHandler(pinger Pinger, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HealthHandler{pinger: pinger, timeout: timeout}
}

func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready 只要有一个元数据后端可用即视为就绪，降级状态单独标出
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	results := h.pinger.Ping(ctx)
	checks := make(map[string]string, len(results))
	healthy := 0
	for name, err := range results {
		if err != nil {
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
		healthy++
	}

	switch {
	case healthy == 0:
		xerr.JSONResponse(c, http.StatusServiceUnavailable, xerr.BackendUnavailableCode, "unavailable", checks)
	case healthy < len(results):
		xerr.Success(c, http.StatusOK, "degraded", checks)
	default:
		xerr.Success(c, http.StatusOK, "ready", checks)
	}
}
