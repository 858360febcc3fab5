package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/gopherchat/internal/chat"
	"github.com/suPer8Hu/gopherchat/internal/common"
	"github.com/suPer8Hu/gopherchat/internal/jobs"
)

type attachReq struct {
	Name    string `json:"name"`
	Content string `json:"content"`
	// ClassificationLevel defaults to the open level when omitted.
	ClassificationLevel int `json:"classificationLevel"`
}

// AttachDocument adds already-extracted document text to the chat's
// pending files.
func (h *Handler) AttachDocument(c *gin.Context) {
	var req attachReq
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidJSON(c)
		return
	}
	if req.ClassificationLevel == 0 {
		req.ClassificationLevel = chat.MinLevel
	}
	a, st, err := h.Store.AttachDocument(c.Request.Context(), c.Param("id"), req.Name, req.Content, req.ClassificationLevel)
	if err != nil {
		fail(c, "AttachDocument", err)
		return
	}
	common.OK(c, gin.H{"attachment": a, "clearance": st})
}

func (h *Handler) RemoveDocument(c *gin.Context) {
	st, err := h.Store.RemovePendingDocument(c.Request.Context(), c.Param("id"), c.Param("aid"))
	if err != nil {
		fail(c, "RemoveDocument", err)
		return
	}
	common.OK(c, gin.H{"clearance": st})
}

func (h *Handler) GetDocument(c *gin.Context) {
	a, err := h.Store.Attachment(c.Param("id"), c.Param("aid"))
	if err != nil {
		fail(c, "GetDocument", err)
		return
	}
	common.OK(c, a)
}

type updateDocumentReq struct {
	Ignored         *bool `json:"ignored"`
	UseFullDocument bool  `json:"useFullDocument"`
	// SummaryID with Selected toggles one summary in the selection.
	SummaryID string `json:"summaryId"`
	Selected  bool   `json:"selected"`
}

func (h *Handler) UpdateDocument(c *gin.Context) {
	var req updateDocumentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidJSON(c)
		return
	}
	ctx := c.Request.Context()
	chatID, attID := c.Param("id"), c.Param("aid")

	var (
		a   chat.Attachment
		st  *chat.ClearanceState
		err error
	)
	if req.Ignored != nil {
		var s chat.ClearanceState
		if a, s, err = h.Store.SetIgnored(ctx, chatID, attID, *req.Ignored); err != nil {
			fail(c, "UpdateDocument", err)
			return
		}
		st = &s
	}
	switch {
	case req.UseFullDocument:
		a, err = h.Store.UseFullDocument(ctx, chatID, attID)
	case req.SummaryID != "":
		a, err = h.Store.SelectSummary(ctx, chatID, attID, req.SummaryID, req.Selected)
	case req.Ignored == nil:
		a, err = h.Store.Attachment(chatID, attID)
	}
	if err != nil {
		fail(c, "UpdateDocument", err)
		return
	}
	common.OK(c, gin.H{"attachment": a, "clearance": st})
}

type summarizeReq struct {
	AttachmentIDs []string `json:"attachmentIds" binding:"required"`
	Instructions  string   `json:"instructions"`
	ModelKey      string   `json:"modelKey"`
}

// Summarize generates summaries for several documents at once and reports
// one outcome per document.
func (h *Handler) Summarize(c *gin.Context) {
	var req summarizeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidJSON(c)
		return
	}
	out, err := h.Chats.SummarizeAttachments(c.Request.Context(), c.Param("id"), req.AttachmentIDs, req.Instructions, req.ModelKey)
	if err != nil {
		fail(c, "Summarize", err)
		return
	}
	common.OK(c, gin.H{"outcomes": out})
}

type queueSummaryReq struct {
	AttachmentID string `json:"attachmentId" binding:"required"`
	Instructions string `json:"instructions"`
	ModelKey     string `json:"modelKey"`
}

func (h *Handler) QueueSummary(c *gin.Context) {
	var req queueSummaryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidJSON(c)
		return
	}
	j, err := h.Chats.QueueSummary(c.Request.Context(), c.Param("id"), req.AttachmentID,
		req.Instructions, req.ModelKey, c.GetHeader("Idempotency-Key"))
	if err != nil {
		fail(c, "QueueSummary", err)
		return
	}
	common.OK(c, jobView(j))
}

func (h *Handler) GetSummaryJob(c *gin.Context) {
	j, err := h.Chats.SummaryJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, "GetSummaryJob", err)
		return
	}
	common.OK(c, jobView(j))
}

// jobView leaves out the document snapshot.
func jobView(j *jobs.Job) gin.H {
	return gin.H{
		"jobId":        j.ID,
		"chatId":       j.ChatID,
		"attachmentId": j.AttachmentID,
		"documentName": j.DocumentName,
		"modelKey":     j.ModelKey,
		"status":       j.Status,
		"title":        j.Title,
		"summaryId":    j.SummaryID,
		"error":        j.Error,
		"attempts":     j.Attempts,
		"createdAt":    j.CreatedAt,
		"updatedAt":    j.UpdatedAt,
	}
}
