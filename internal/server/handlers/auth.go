package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bracket-engine/internal/auth"
	"bracket-engine/internal/models"
	"bracket-engine/internal/store"
	"bracket-engine/internal/validation"
)

// HandleRegisterOperator creates a tournament-organizer account. Only
// admins reach this route; bridge tokens are minted separately.
func HandleRegisterOperator(c *gin.Context, st *store.Store, authService *auth.Service) {
	var req models.RegisterOperatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := validation.ValidateUsername(req.Username); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validation.ValidatePassword(req.Password); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validation.ValidateGuildID(req.GuildID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	role := req.Role
	if role == "" {
		role = auth.RoleTO
	}
	if err := validation.ValidateEnum(role, []string{auth.RoleTO, auth.RoleAdmin}, "role"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hash, err := authService.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
		return
	}

	op := models.Operator{
		ID:           auth.GenerateID(),
		Username:     req.Username,
		PasswordHash: hash,
		Role:         role,
		GuildID:      req.GuildID,
	}
	if err := st.CreateOperator(&op); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username already exists"})
		return
	}

	token, _ := authService.GenerateToken(op.ID, op.Role, op.GuildID)
	op.PasswordHash = ""

	c.JSON(http.StatusCreated, models.AuthResponse{Token: token, Operator: op})
}

// HandleLogin exchanges operator credentials for a JWT.
func HandleLogin(c *gin.Context, st *store.Store, authService *auth.Service) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	op, err := st.OperatorByUsername(req.Username)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}
	if !authService.CheckPassword(req.Password, op.PasswordHash) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	token, _ := authService.GenerateToken(op.ID, op.Role, op.GuildID)
	op.PasswordHash = ""

	c.JSON(http.StatusOK, models.AuthResponse{Token: token, Operator: *op})
}

// HandleBridgeToken mints a socket token for a guild's chat bridge.
func HandleBridgeToken(c *gin.Context, authService *auth.Service) {
	guildID := c.Param("guild")
	token, err := authService.GenerateToken("bridge-"+guildID, auth.RoleBridge, guildID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}
