package mining

import (
	"net/http"

	"minerush-rewardplane/pkg/config"
	"minerush-rewardplane/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("mining",
	fx.Provide(
		NewHandler,
		fx.Annotate(NewRouter, fx.As(new(http.Handler))),
	),
)

// NewRouter builds the gin engine with the shared middleware chain and the
// mining routes mounted.
func NewRouter(h *Handler, cfg *config.Config) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.Error())
	h.RegisterRoutes(r)
	return r
}
