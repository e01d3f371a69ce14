package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/alxvallejo/read-api/internal/foryou"
	"github.com/gin-gonic/gin"
)

type subredditURI struct {
	Subreddit string `uri:"subreddit" binding:"required,subreddit"`
}

type triageRequestPayload struct {
	PostID string `json:"post_id" binding:"required"`
	Action string `json:"action" binding:"required"`
}

type triageResponsePayload struct {
	OK         bool          `json:"ok"`
	Action     foryou.Action `json:"action"`
	PostID     string        `json:"post_id"`
	SavedCount int64         `json:"saved_count"`
}

type blockRequestPayload struct {
	Blocked *bool `json:"blocked" binding:"required"`
}

type reportRequestPayload struct {
	Model string `json:"model" binding:"omitempty,max=64"`
}

type subredditsResponsePayload struct {
	Subreddits []string `json:"subreddits"`
}

func (h *httpHandler) handleGetFeed(c *gin.Context) {
	refresh, err := strconv.ParseBool(c.DefaultQuery("refresh", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	feed, err := h.forYou.GetFeed(c.Request.Context(), c.GetString(userIDContextKey), redditToken(c), refresh)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, feed)
}

func (h *httpHandler) handleTriage(c *gin.Context) {
	var request triageRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	action, err := foryou.ParseAction(request.Action)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_action"})
		return
	}
	result, err := h.forYou.RecordTriage(c.Request.Context(), c.GetString(userIDContextKey), redditToken(c), request.PostID, action)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, triageResponsePayload{
		OK:         true,
		Action:     result.Action,
		PostID:     result.PostID,
		SavedCount: result.SavedCount,
	})
}

func (h *httpHandler) handleTriageCounts(c *gin.Context) {
	counts, err := h.forYou.TriageCounts(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (h *httpHandler) handleGetPersona(c *gin.Context) {
	profile, err := h.forYou.GetPersona(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *httpHandler) handleRefreshPersona(c *gin.Context) {
	profile, err := h.forYou.RefreshPersona(c.Request.Context(), c.GetString(userIDContextKey), redditToken(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *httpHandler) handleListStarred(c *gin.Context) {
	starred, err := h.forYou.ListStarred(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, subredditsResponsePayload{Subreddits: starred})
}

func (h *httpHandler) handleStar(c *gin.Context) {
	var uri subredditURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_subreddit"})
		return
	}
	starred, err := h.forYou.StarSubreddit(c.Request.Context(), c.GetString(userIDContextKey), uri.Subreddit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, subredditsResponsePayload{Subreddits: starred})
}

func (h *httpHandler) handleUnstar(c *gin.Context) {
	var uri subredditURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_subreddit"})
		return
	}
	starred, err := h.forYou.UnstarSubreddit(c.Request.Context(), c.GetString(userIDContextKey), uri.Subreddit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, subredditsResponsePayload{Subreddits: starred})
}

func (h *httpHandler) handleListBlocked(c *gin.Context) {
	blocked, err := h.forYou.ListBlockedSubreddits(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subreddits": blocked})
}

func (h *httpHandler) handleBlock(c *gin.Context) {
	var uri subredditURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_subreddit"})
		return
	}
	var request blockRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	result, err := h.forYou.SetSubredditBlock(c.Request.Context(), c.GetString(userIDContextKey), uri.Subreddit, *request.Blocked)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleDismiss(c *gin.Context) {
	var uri subredditURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_subreddit"})
		return
	}
	result, err := h.forYou.DismissSubreddit(c.Request.Context(), c.GetString(userIDContextKey), uri.Subreddit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleSyncSubscriptions(c *gin.Context) {
	subscriptions, err := h.forYou.SyncSubscriptions(c.Request.Context(), c.GetString(userIDContextKey), redditToken(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, subredditsResponsePayload{Subreddits: subscriptions})
}

func (h *httpHandler) handleGenerateReport(c *gin.Context) {
	var request reportRequestPayload
	// The body is optional; an empty one selects the default model.
	if err := c.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	report, err := h.forYou.GenerateReport(c.Request.Context(), c.GetString(userIDContextKey), request.Model)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *httpHandler) handleLatestReport(c *gin.Context) {
	report, err := h.forYou.GetLatestReport(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
