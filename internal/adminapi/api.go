package adminapi

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

func (s *Server) setupRoutes(r *gin.Engine) {
	r.POST("/api/v1/auth/login", s.handleLogin)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.Use(AuthMiddleware(s.cfg.JWTSecret))
	{
		api.GET("/sessions", s.listSessions)
		api.GET("/sessions/history", s.listSessionHistory)
		api.GET("/sessions/:id", s.getSession)
		api.GET("/events", func(c *gin.Context) { s.hub.HandleEvents(c) })
	}
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var user AdminUser
	if err := s.db.Where("username = ?", req.Username).First(&user).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if !CheckPassword(req.Password, user.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, expiresAt, err := GenerateToken(user.Username, s.cfg.JWTSecret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generate token failed"})
		return
	}
	c.JSON(http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt.Unix()})
}

// sessionView is what the API reports about a live session: enough to
// monitor it, nothing that would leak key material.
type sessionView struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

func (s *Server) listSessions(c *gin.Context) {
	ids := s.sessions.Snapshot()
	result := make([]sessionView, 0, len(ids))
	for _, id := range ids {
		sess, ok := s.sessions.Get(id)
		if !ok {
			continue
		}
		result = append(result, sessionView{
			ID:    fmt.Sprintf("%016x", sess.ID()),
			State: sess.State().String(),
		})
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) getSession(c *gin.Context) {
	var id uint64
	if _, err := fmt.Sscanf(c.Param("id"), "%016x", &id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	sess, ok := s.sessions.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, sessionView{
		ID:    fmt.Sprintf("%016x", sess.ID()),
		State: sess.State().String(),
	})
}

func (s *Server) listSessionHistory(c *gin.Context) {
	var records []SessionRecord
	s.db.Order("established_at desc").Limit(200).Find(&records)
	c.JSON(http.StatusOK, records)
}
