// Package web assembles the gin HTTP server.
package web

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"assetrules/auth"
	"assetrules/internal/db"
	"assetrules/internal/web/api"
	"assetrules/internal/web/middleware"
)

type Server struct {
	router *gin.Engine
}

func NewServer(database *db.DB, authModule *auth.Module, engine api.EngineHooks, sched api.SchedulerHooks, defaultRealm string, log *zap.SugaredLogger) *Server {
	router := gin.Default()

	mw := middleware.NewManager(authModule)
	api.RegisterAuthRoutes(router, authModule, defaultRealm)
	api.RegisterRulesetRoutes(router, mw, database, engine, sched, log)

	return &Server{router: router}
}

func (s *Server) Start(addr string) error {
	return s.router.Run(addr)
}
