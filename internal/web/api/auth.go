package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"assetrules/auth"
	webModels "assetrules/internal/web/models"
)

// RegisterAuthRoutes wires login and registration. defaultRealm is used for
// registrations that do not name one.
func RegisterAuthRoutes(router *gin.Engine, authModule *auth.Module, defaultRealm string) {
	r := router.Group("/auth")
	{
		r.POST("/login", func(c *gin.Context) {
			var req webModels.LoginRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
				return
			}
			token, err := authModule.Login(c, req.Username, req.Password)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"token": token})
		})

		r.POST("/register", func(c *gin.Context) {
			var req webModels.RegisterRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
				return
			}
			realm := req.Realm
			if realm == "" {
				realm = defaultRealm
			}
			token, err := authModule.Register(c, req.Username, req.Password, realm)
			if errors.Is(err, auth.ErrUserExists) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusCreated, gin.H{"token": token})
		})
	}
}
