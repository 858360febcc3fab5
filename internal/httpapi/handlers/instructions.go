package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/gopherchat/internal/common"
)

func (h *Handler) ListInstructions(c *gin.Context) {
	common.OK(c, h.Instructions.All())
}

type instructionReq struct {
	Label   string `json:"label"`
	Content string `json:"content"`
}

func (h *Handler) CreateInstruction(c *gin.Context) {
	var req instructionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidJSON(c)
		return
	}
	in, err := h.Instructions.Add(c.Request.Context(), req.Label, req.Content)
	if err != nil {
		fail(c, "CreateInstruction", err)
		return
	}
	common.OK(c, in)
}

func (h *Handler) UpdateInstruction(c *gin.Context) {
	var req instructionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidJSON(c)
		return
	}
	in, err := h.Instructions.Update(c.Request.Context(), c.Param("id"), req.Label, req.Content)
	if err != nil {
		fail(c, "UpdateInstruction", err)
		return
	}
	common.OK(c, in)
}

func (h *Handler) DeleteInstruction(c *gin.Context) {
	if err := h.Instructions.Delete(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, "DeleteInstruction", err)
		return
	}
	common.OK(c, nil)
}
