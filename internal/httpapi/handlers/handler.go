package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/gopherchat/internal/ai"
	"github.com/suPer8Hu/gopherchat/internal/app"
	"github.com/suPer8Hu/gopherchat/internal/catalog"
	"github.com/suPer8Hu/gopherchat/internal/chat"
	"github.com/suPer8Hu/gopherchat/internal/common"
	"github.com/suPer8Hu/gopherchat/internal/httpapi/middleware"
	"github.com/suPer8Hu/gopherchat/internal/instructions"
	"github.com/suPer8Hu/gopherchat/internal/jobs"
	"github.com/suPer8Hu/gopherchat/internal/settings"
)

type Handler struct {
	Chats        *chat.Service
	Store        *chat.Store
	Catalog      *catalog.Catalog
	Settings     *settings.Manager
	Instructions *instructions.Library
	Registry     *ai.Registry
}

func NewHandler(core *app.Core, svc *chat.Service) *Handler {
	return &Handler{
		Chats:        svc,
		Store:        svc.Store(),
		Catalog:      core.Catalog,
		Settings:     core.Settings,
		Instructions: core.Instructions,
		Registry:     core.Registry,
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func invalidJSON(c *gin.Context) {
	common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
}

// fail maps a domain error onto the response envelope. Unknown errors are
// logged under op and reported as 500.
func fail(c *gin.Context, op string, err error) {
	var (
		clearance   *chat.ClearanceError
		cfgErr      *ai.ConfigurationError
		httpErr     *ai.HTTPError
		respErr     *ai.ResponseError
		unsupported *ai.UnsupportedProviderError
		vendorErr   *ai.VendorError
		transport   *ai.TransportError
	)
	switch {
	case errors.As(err, &clearance):
		common.FailWithData(c, http.StatusConflict, 40902, err.Error(), gin.H{
			"required":  clearance.Required,
			"modelKey":  clearance.ModelKey,
			"clearance": clearance.Clearance,
		})
	case errors.Is(err, chat.ErrChatNotFound):
		common.Fail(c, http.StatusNotFound, 40401, "chat not found")
	case errors.Is(err, chat.ErrAttachmentNotFound):
		common.Fail(c, http.StatusNotFound, 40402, "attachment not found")
	case errors.Is(err, chat.ErrSummaryNotFound):
		common.Fail(c, http.StatusNotFound, 40403, "summary not found")
	case errors.Is(err, catalog.ErrModelNotFound):
		common.Fail(c, http.StatusNotFound, 40404, err.Error())
	case errors.Is(err, instructions.ErrInstructionNotFound):
		common.Fail(c, http.StatusNotFound, 40405, "instruction not found")
	case errors.Is(err, jobs.ErrJobNotFound):
		common.Fail(c, http.StatusNotFound, 40406, "job not found")
	case errors.Is(err, chat.ErrLastChat):
		common.Fail(c, http.StatusConflict, 40901, err.Error())
	case errors.Is(err, chat.ErrModelChanged):
		common.Fail(c, http.StatusConflict, 40904, err.Error())
	case errors.Is(err, chat.ErrSendInProgress):
		common.Fail(c, http.StatusConflict, 40903, err.Error())
	case errors.Is(err, instructions.ErrBuiltinReadOnly):
		common.Fail(c, http.StatusForbidden, 40301, err.Error())
	case errors.Is(err, chat.ErrInvalidLevel), errors.Is(err, instructions.ErrInvalidInstruction):
		common.Fail(c, http.StatusBadRequest, 40001, err.Error())
	case errors.As(err, &cfgErr), errors.As(err, &unsupported):
		common.Fail(c, http.StatusBadRequest, 40002, err.Error())
	case errors.As(err, &httpErr), errors.As(err, &respErr),
		errors.As(err, &vendorErr), errors.As(err, &transport):
		common.Fail(c, http.StatusBadGateway, 50201, err.Error())
	case errors.Is(err, chat.ErrJobsDisabled):
		common.Fail(c, http.StatusServiceUnavailable, 50301, err.Error())
	default:
		log.Printf("[%s] request_id=%s err=%v", op, c.GetString(middleware.RequestIDKey), err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}
