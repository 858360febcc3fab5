package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/gopherchat/internal/app"
	"github.com/suPer8Hu/gopherchat/internal/chat"
	"github.com/suPer8Hu/gopherchat/internal/common"
	"github.com/suPer8Hu/gopherchat/internal/config"
	"github.com/suPer8Hu/gopherchat/internal/httpapi/handlers"
	"github.com/suPer8Hu/gopherchat/internal/httpapi/middleware"
)

func NewRouter(cfg config.Config, core *app.Core, svc *chat.Service) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(core, svc)

	r.GET("/ping", h.Ping)

	// everything else requires a token when JWT_SECRET is set
	api := r.Group("/")
	api.Use(middleware.AuthRequired(cfg.JWTSecret))

	api.GET("/state", h.State)

	// chats
	api.POST("/chats", h.CreateChat)
	api.GET("/chats/:id", h.GetChat)
	api.PATCH("/chats/:id", h.UpdateChat)
	api.DELETE("/chats/:id", h.DeleteChat)
	api.POST("/chats/:id/load", h.LoadChat)
	api.POST("/chats/:id/messages", h.SendMessage)

	// documents and summaries
	api.POST("/chats/:id/attachments", h.AttachDocument)
	api.GET("/chats/:id/attachments/:aid", h.GetDocument)
	api.PATCH("/chats/:id/attachments/:aid", h.UpdateDocument)
	api.DELETE("/chats/:id/attachments/:aid", h.RemoveDocument)
	api.POST("/chats/:id/summaries", h.Summarize)
	api.POST("/chats/:id/summary-jobs", h.QueueSummary)
	api.GET("/summary-jobs/:id", h.GetSummaryJob)

	// configuration
	api.GET("/models", h.ListModels)
	api.GET("/settings", h.GetSettings)
	api.PATCH("/settings", h.UpdateSettings)
	api.PUT("/settings/providers/:id", h.UpdateProvider)
	api.PUT("/settings/tutorial", h.SaveTutorialState)

	api.GET("/instructions", h.ListInstructions)
	api.POST("/instructions", h.CreateInstruction)
	api.PUT("/instructions/:id", h.UpdateInstruction)
	api.DELETE("/instructions/:id", h.DeleteInstruction)
	return r
}
