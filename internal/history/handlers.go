package history

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"bracket-engine/internal/db"
	"bracket-engine/internal/models"
)

// GetCurrentHistory returns the full ordered trail for the guild's loaded
// tournament. currentID resolves the guild to its live tournament.
func GetCurrentHistory(c *gin.Context, database *db.DB, currentID func(guildID string) (int64, bool)) {
	guildID := c.Param("guild")

	tournamentID, ok := currentID(guildID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No tournament loaded for this guild"})
		return
	}

	var events []models.TournamentEvent
	err := database.Where("guild_id = ? AND tournament_id = ?", guildID, tournamentID).
		Order("sequence_number ASC").
		Find(&events).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch tournament history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"guild_id":      guildID,
		"tournament_id": tournamentID,
		"events":        enrich(events),
		"count":         len(events),
	})
}

// GetGuildHistory returns the stored trail across a guild's tournaments,
// newest first, paginated with limit and offset. An optional tournament_id
// query narrows it to one bracket.
func GetGuildHistory(c *gin.Context, database *db.DB) {
	guildID := c.Param("guild")

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 200 {
		limit = 50
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	var tournamentID int64
	if raw := c.Query("tournament_id"); raw != "" {
		tournamentID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid tournament ID"})
			return
		}
	}

	query := database.Where("guild_id = ?", guildID)
	countQuery := database.Model(&models.TournamentEvent{}).Where("guild_id = ?", guildID)
	if tournamentID != 0 {
		query = query.Where("tournament_id = ?", tournamentID)
		countQuery = countQuery.Where("tournament_id = ?", tournamentID)
	}

	var events []models.TournamentEvent
	err = query.Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&events).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch guild history"})
		return
	}

	var totalCount int64
	countQuery.Count(&totalCount)

	c.JSON(http.StatusOK, gin.H{
		"guild_id":    guildID,
		"events":      enrich(events),
		"count":       len(events),
		"total_count": totalCount,
		"limit":       limit,
		"offset":      offset,
	})
}

// enrich parses each row's detail JSON back into an object for the response.
func enrich(events []models.TournamentEvent) []map[string]interface{} {
	out := make([]map[string]interface{}, len(events))
	for i, event := range events {
		var detail map[string]interface{}
		if event.Detail != "" && event.Detail != "{}" {
			json.Unmarshal([]byte(event.Detail), &detail)
		}
		out[i] = map[string]interface{}{
			"id":              event.ID,
			"tournament_id":   event.TournamentID,
			"event_type":      event.EventType,
			"target":          event.Target,
			"user_id":         event.UserID,
			"detail":          detail,
			"sequence_number": event.SequenceNumber,
			"created_at":      event.CreatedAt,
		}
	}
	return out
}
