package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bracket-engine/internal/chat"
	"bracket-engine/internal/locks"
	"bracket-engine/internal/models"
	"bracket-engine/internal/tournament"
	"bracket-engine/internal/validation"
)

// HandleSetup creates a tournament for the guild and starts its loop. The
// guild hold is taken first so two engine instances cannot adopt the same
// guild; it is released again if the engine refuses the setup.
func HandleSetup(c *gin.Context, mgr *tournament.Manager, guard *locks.Guard) {
	guildID := c.Param("guild")

	var req models.SetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := guard.HoldGuild(c.Request.Context(), guildID); err != nil {
		respondErr(c, err)
		return
	}

	t, err := mgr.Setup(c.Request.Context(), guildID, req.Ref, req.Config, tournament.SetupOptions{
		AcceptConflicts: req.AcceptConflicts,
	})
	if err != nil {
		guard.ReleaseGuild(guildID)
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusCreated, t.Status())
}

// HandleResume adopts a bracket that is already underway on the provider,
// the recovery path offered when setup fails with "already started".
func HandleResume(c *gin.Context, mgr *tournament.Manager, guard *locks.Guard) {
	guildID := c.Param("guild")

	var req models.ResumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := guard.HoldGuild(c.Request.Context(), guildID); err != nil {
		respondErr(c, err)
		return
	}

	t, err := mgr.Resume(c.Request.Context(), guildID, req.Ref, req.Config)
	if err != nil {
		guard.ReleaseGuild(guildID)
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusCreated, t.Status())
}

// HandleList snapshots every tournament this instance runs.
func HandleList(c *gin.Context, mgr *tournament.Manager) {
	c.JSON(http.StatusOK, gin.H{"tournaments": mgr.List()})
}

func HandleStatus(c *gin.Context, mgr *tournament.Manager) {
	t, ok := getTournament(c, mgr)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, t.Status())
}

func HandleRoster(c *gin.Context, mgr *tournament.Manager) {
	t, ok := getTournament(c, mgr)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": t.Roster()})
}

func HandleMatches(c *gin.Context, mgr *tournament.Manager) {
	t, ok := getTournament(c, mgr)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"matches": t.MatchList()})
}

func HandleStreamers(c *gin.Context, mgr *tournament.Manager) {
	t, ok := getTournament(c, mgr)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"streamers": t.StreamerList()})
}

// HandleStart flips the tournament live once the bracket is seeded.
func HandleStart(c *gin.Context, mgr *tournament.Manager) {
	t, ok := getTournament(c, mgr)
	if !ok {
		return
	}
	if err := mgr.Start(c.Request.Context(), c.Param("guild")); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, t.Status())
}

// HandleEnd finalizes the bracket. The record stays queryable until Drop,
// but the loop stops, so the guild hold is released.
func HandleEnd(c *gin.Context, mgr *tournament.Manager, guard *locks.Guard) {
	guildID := c.Param("guild")
	t, ok := getTournament(c, mgr)
	if !ok {
		return
	}
	if err := mgr.End(c.Request.Context(), guildID); err != nil {
		respondErr(c, err)
		return
	}
	guard.ReleaseGuild(guildID)
	c.JSON(http.StatusOK, t.Status())
}

// HandleDrop forgets the tournament and deletes its saved state.
func HandleDrop(c *gin.Context, mgr *tournament.Manager, guard *locks.Guard) {
	guildID := c.Param("guild")
	err := mgr.Drop(c.Request.Context(), guildID)
	if err == nil || statusFor(err) != http.StatusNotFound {
		guard.ReleaseGuild(guildID)
	}
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "dropped"})
}

// HandleResumeLoop restarts a loop the error budget suspended.
func HandleResumeLoop(c *gin.Context, mgr *tournament.Manager) {
	if err := mgr.ResumeLoop(c.Param("guild")); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "loop resumed"})
}

// HandleStopLoop pauses the loop without touching tournament state. The
// guild hold stays with this instance until End or Drop.
func HandleStopLoop(c *gin.Context, mgr *tournament.Manager) {
	if err := mgr.StopLoop(c.Param("guild")); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "loop stopped"})
}

func HandleStartRegistration(c *gin.Context, mgr *tournament.Manager) {
	t, ok := getTournament(c, mgr)
	if !ok {
		return
	}
	if err := t.StartRegistration(c.Request.Context()); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, t.Status())
}

func HandleEndRegistration(c *gin.Context, mgr *tournament.Manager) {
	t, ok := getTournament(c, mgr)
	if !ok {
		return
	}
	if err := t.EndRegistration(c.Request.Context()); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, t.Status())
}

func HandleStartCheckin(c *gin.Context, mgr *tournament.Manager) {
	t, ok := getTournament(c, mgr)
	if !ok {
		return
	}
	if err := t.StartCheckin(c.Request.Context()); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, t.Status())
}

// HandleCallCheckin re-announces check-in, optionally DMing stragglers.
func HandleCallCheckin(c *gin.Context, mgr *tournament.Manager) {
	t, ok := getTournament(c, mgr)
	if !ok {
		return
	}
	var req models.CallCheckinRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
	}
	if err := t.CallCheckin(c.Request.Context(), req.DM); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "check-in called"})
}

func HandleEndCheckin(c *gin.Context, mgr *tournament.Manager) {
	t, ok := getTournament(c, mgr)
	if !ok {
		return
	}
	if err := t.EndCheckin(c.Request.Context()); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, t.Status())
}

// HandleRegisterParticipant signs a chat user up for the bracket.
func HandleRegisterParticipant(c *gin.Context, mgr *tournament.Manager) {
	t, ok := getTournament(c, mgr)
	if !ok {
		return
	}
	var req models.ParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Participant name is required"})
		return
	}

	user := chat.UserRef{ID: req.UserID, Name: req.Name}
	if err := t.RegisterParticipant(c.Request.Context(), user, req.Notify); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "registered"})
}

func HandleUnregister(c *gin.Context, mgr *tournament.Manager) {
	t, ok := getTournament(c, mgr)
	if !ok {
		return
	}
	if err := t.Unregister(c.Request.Context(), c.Param("user")); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unregistered"})
}

func HandleCheckIn(c *gin.Context, mgr *tournament.Manager) {
	t, ok := getTournament(c, mgr)
	if !ok {
		return
	}
	if err := t.CheckIn(c.Request.Context(), c.Param("user")); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "checked in"})
}

// HandleUpload pushes the local roster to the provider. Force destroys
// the remote list first and recreates it in seed order.
func HandleUpload(c *gin.Context, mgr *tournament.Manager) {
	t, ok := getTournament(c, mgr)
	if !ok {
		return
	}
	var req models.UploadRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
	}
	if err := t.UploadParticipants(c.Request.Context(), req.Force); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "uploaded"})
}

// HandleResetBracket wipes remote scores back to a fresh bracket.
func HandleResetBracket(c *gin.Context, mgr *tournament.Manager) {
	t, ok := getTournament(c, mgr)
	if !ok {
		return
	}
	if err := t.ResetBracket(c.Request.Context()); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, t.Status())
}

func HandleReportScore(c *gin.Context, mgr *tournament.Manager) {
	t, ok := getTournament(c, mgr)
	if !ok {
		return
	}
	var req models.ReportScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if err := t.ReportScore(c.Request.Context(), req.Set, req.Score1, req.Score2); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reported"})
}

func HandleForfeit(c *gin.Context, mgr *tournament.Manager) {
	t, ok := getTournament(c, mgr)
	if !ok {
		return
	}
	if err := t.Forfeit(c.Request.Context(), c.Param("user")); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "forfeited"})
}

func HandleDisqualify(c *gin.Context, mgr *tournament.Manager) {
	t, ok := getTournament(c, mgr)
	if !ok {
		return
	}
	var req models.DisqualifyRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
	}
	if err := t.DisqualifyUser(c.Request.Context(), c.Param("user"), req.Reason); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "disqualified"})
}

// HandleAddStreamer opens a stream queue owned by a chat user.
func HandleAddStreamer(c *gin.Context, mgr *tournament.Manager) {
	t, ok := getTournament(c, mgr)
	if !ok {
		return
	}
	var req models.AddStreamerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if err := validation.ValidateStreamName(req.Name); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validation.ValidateStreamRoom(req.RoomID, req.RoomCode); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	owner := chat.UserRef{ID: req.UserID, Name: req.Name}
	err := t.AddStreamer(c.Request.Context(), owner, req.Channel, req.RoomID, req.RoomCode, req.RespectOrder)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "streamer added"})
}

func HandleStreamRoom(c *gin.Context, mgr *tournament.Manager) {
	t, ok := getTournament(c, mgr)
	if !ok {
		return
	}
	var req models.StreamRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if err := validation.ValidateStreamRoom(req.RoomID, req.RoomCode); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := t.SetStreamRoom(c.Request.Context(), c.Param("owner"), req.RoomID, req.RoomCode); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "room updated"})
}

func HandleQueueSets(c *gin.Context, mgr *tournament.Manager) {
	t, ok := getTournament(c, mgr)
	if !ok {
		return
	}
	var req models.QueueSetsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if err := t.QueueSets(c.Request.Context(), c.Param("owner"), req.Sets); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sets queued"})
}

func HandleSwapSets(c *gin.Context, mgr *tournament.Manager) {
	t, ok := getTournament(c, mgr)
	if !ok {
		return
	}
	var req models.SwapSetsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if err := t.SwapSets(c.Request.Context(), c.Param("owner"), req.A, req.B); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sets swapped"})
}

func HandleInsertSet(c *gin.Context, mgr *tournament.Manager) {
	t, ok := getTournament(c, mgr)
	if !ok {
		return
	}
	var req models.InsertSetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if err := t.InsertSet(c.Request.Context(), c.Param("owner"), req.Set, req.Before); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "set inserted"})
}

func HandleRemoveSets(c *gin.Context, mgr *tournament.Manager) {
	t, ok := getTournament(c, mgr)
	if !ok {
		return
	}
	var req models.QueueSetsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if err := t.RemoveSets(c.Request.Context(), c.Param("owner"), req.Sets); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sets removed"})
}

// HandleEndStream closes a streamer's queue and releases held matches.
func HandleEndStream(c *gin.Context, mgr *tournament.Manager) {
	t, ok := getTournament(c, mgr)
	if !ok {
		return
	}
	if err := t.EndStream(c.Request.Context(), c.Param("owner")); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stream ended"})
}

// HandleSaveNow forces a state snapshot outside the usual write points.
func HandleSaveNow(c *gin.Context, mgr *tournament.Manager) {
	t, ok := getTournament(c, mgr)
	if !ok {
		return
	}
	if err := t.SaveNow(); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved"})
}
