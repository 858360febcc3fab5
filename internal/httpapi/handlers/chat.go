package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/gopherchat/internal/chat"
	"github.com/suPer8Hu/gopherchat/internal/common"
)

func (h *Handler) State(c *gin.Context) {
	common.OK(c, h.Store.State())
}

func (h *Handler) CreateChat(c *gin.Context) {
	ch, err := h.Store.CreateNewChat(c.Request.Context())
	if err != nil {
		fail(c, "CreateChat", err)
		return
	}
	common.OK(c, ch)
}

func (h *Handler) GetChat(c *gin.Context) {
	ch, err := h.Store.Chat(c.Param("id"))
	if err != nil {
		fail(c, "GetChat", err)
		return
	}
	common.OK(c, ch)
}

// LoadChat makes the chat current.
func (h *Handler) LoadChat(c *gin.Context) {
	ch, st, err := h.Store.LoadChat(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, "LoadChat", err)
		return
	}
	common.OK(c, gin.H{"chat": ch, "clearance": st})
}

func (h *Handler) DeleteChat(c *gin.Context) {
	if err := h.Store.DeleteChat(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, "DeleteChat", err)
		return
	}
	common.OK(c, h.Store.State())
}

type updateChatReq struct {
	Title         *string `json:"title"`
	ModelKey      *string `json:"modelKey"`
	InstructionID *string `json:"instructionId"`
}

func (h *Handler) UpdateChat(c *gin.Context) {
	var req updateChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidJSON(c)
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")

	if req.Title != nil {
		if err := h.Store.UpdateChatTitle(ctx, id, *req.Title); err != nil {
			fail(c, "UpdateChat", err)
			return
		}
	}
	if req.InstructionID != nil {
		if err := h.Store.SetChatInstruction(ctx, id, *req.InstructionID); err != nil {
			fail(c, "UpdateChat", err)
			return
		}
	}

	var (
		st  chat.ClearanceState
		err error
	)
	if req.ModelKey != nil {
		st, err = h.Store.SetChatModel(ctx, id, *req.ModelKey)
	} else {
		st, err = h.Store.RecomputeClearance(ctx, id)
	}
	if err != nil {
		fail(c, "UpdateChat", err)
		return
	}

	ch, err := h.Store.Chat(id)
	if err != nil {
		fail(c, "UpdateChat", err)
		return
	}
	common.OK(c, gin.H{"chat": ch, "clearance": st})
}

type sendMessageReq struct {
	Text string `json:"text"`
}

// SendMessage blocks until the provider replies. An empty text is accepted
// and does nothing.
func (h *Handler) SendMessage(c *gin.Context) {
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidJSON(c)
		return
	}
	reply, err := h.Chats.SendMessage(c.Request.Context(), c.Param("id"), req.Text)
	if err != nil {
		fail(c, "SendMessage", err)
		return
	}
	common.OK(c, gin.H{"reply": reply})
}
