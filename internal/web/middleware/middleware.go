package middleware

import (
	"assetrules/auth"
	"assetrules/internal/models"

	"github.com/gin-gonic/gin"
)

const realmContextKey = "realmContext"

type Manager struct {
	auth *auth.Module
}

func NewManager(authModule *auth.Module) *Manager {
	return &Manager{auth: authModule}
}

// RealmContext returns the realm context the auth middleware attached.
func RealmContext(c *gin.Context) models.RealmContext {
	if v, ok := c.Get(realmContextKey); ok {
		if rc, ok := v.(models.RealmContext); ok {
			return rc
		}
	}
	return models.RealmContext{}
}
