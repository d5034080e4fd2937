package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bracket-engine/internal/models"
	"bracket-engine/internal/store"
	"bracket-engine/internal/validation"
)

// HandleSaveSettings stores a named settings document for the guild. The
// document is validated against the settings schema before it is written,
// so a running tournament can never pick up a config that fails to parse.
func HandleSaveSettings(c *gin.Context, st *store.Store) {
	var req models.SettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := validation.ValidateConfigName(req.Name); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := st.SaveSettings(c.Param("guild"), req.Name, req.Document); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid settings document"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved", "name": req.Name})
}

// HandleGetSettings returns a named settings document, falling back to
// built-in defaults when the guild never customized "default".
func HandleGetSettings(c *gin.Context, st *store.Store) {
	cfg, err := st.LoadSettings(c.Param("guild"), c.Param("name"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func HandleListSettings(c *gin.Context, st *store.Store) {
	names, err := st.ListSettings(c.Param("guild"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"configs": names})
}

func HandleDeleteSettings(c *gin.Context, st *store.Store) {
	if err := st.DeleteSettings(c.Param("guild"), c.Param("name")); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
