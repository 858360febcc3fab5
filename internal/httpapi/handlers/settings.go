package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/gopherchat/internal/common"
	"github.com/suPer8Hu/gopherchat/internal/settings"
)

// ListModels returns the catalog with the default key.
func (h *Handler) ListModels(c *gin.Context) {
	common.OK(c, gin.H{
		"models":     h.Catalog.All(),
		"defaultKey": h.Catalog.Default().Key,
	})
}

func (h *Handler) GetSettings(c *gin.Context) {
	common.OK(c, h.Settings.Snapshot())
}

type updateSettingsReq struct {
	Language              *string `json:"language"`
	Theme                 *string `json:"theme"`
	TitleModelKey         *string `json:"titleDeployment"`
	SelectedInstructionID *string `json:"selectedInstructionId"`
}

func (h *Handler) UpdateSettings(c *gin.Context) {
	var req updateSettingsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidJSON(c)
		return
	}
	ctx := c.Request.Context()

	if req.TitleModelKey != nil && *req.TitleModelKey != "" {
		if _, err := h.Catalog.Get(*req.TitleModelKey); err != nil {
			fail(c, "UpdateSettings", err)
			return
		}
	}
	if req.SelectedInstructionID != nil {
		if _, err := h.Instructions.Get(*req.SelectedInstructionID); err != nil {
			fail(c, "UpdateSettings", err)
			return
		}
	}

	updates := []struct {
		v   *string
		set func(context.Context, string) error
	}{
		{req.Language, h.Settings.SetLanguage},
		{req.Theme, h.Settings.SetTheme},
		{req.TitleModelKey, h.Settings.SetTitleModel},
		{req.SelectedInstructionID, h.Settings.SetSelectedInstruction},
	}
	for _, u := range updates {
		if u.v == nil {
			continue
		}
		if err := u.set(ctx, *u.v); err != nil {
			fail(c, "UpdateSettings", err)
			return
		}
	}
	common.OK(c, h.Settings.Snapshot())
}

// UpdateProvider patches the credentials of one registered provider. The
// response never includes the API key.
func (h *Handler) UpdateProvider(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.Registry.Get(id); err != nil {
		common.Fail(c, http.StatusNotFound, 40407, err.Error())
		return
	}
	var req settings.ProviderUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidJSON(c)
		return
	}
	st, err := h.Settings.SetProviderConfig(c.Request.Context(), id, req)
	if err != nil {
		fail(c, "UpdateProvider", err)
		return
	}
	common.OK(c, st)
}

func (h *Handler) SaveTutorialState(c *gin.Context) {
	var raw json.RawMessage
	if err := c.ShouldBindJSON(&raw); err != nil {
		invalidJSON(c)
		return
	}
	if err := h.Settings.SetTutorialState(c.Request.Context(), raw); err != nil {
		fail(c, "SaveTutorialState", err)
		return
	}
	common.OK(c, nil)
}
