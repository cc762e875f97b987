package http

import (
	"github.com/gin-gonic/gin"

	"studyrag/internal/bootstrap"
	"studyrag/internal/transport/http/handler"
	"studyrag/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	authHandler := handler.NewAuthHandler(app.AuthService)
	studyHandler := handler.NewStudyHandler(
		app.RAGService,
		app.IngestPublisher,
		app.ConversationCache,
		app.Config.Query.HistoryTurns,
	)

	v1 := router.Group("/api/v1")
	authGroup := v1.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", middleware.AuthJWT(app.Config.Auth.JWTSecret), authHandler.Me)

	studyGroup := v1.Group("/study")
	studyGroup.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret))
	studyGroup.POST("/documents", studyHandler.IngestDocument)
	studyGroup.POST("/documents/upload", studyHandler.UploadPDF)
	studyGroup.GET("/documents", studyHandler.ListDocuments)
	studyGroup.DELETE("/documents/:id", studyHandler.DeleteDocument)
	studyGroup.POST("/query", studyHandler.Query)
	studyGroup.POST("/index/rebuild", studyHandler.RebuildIndex)

	return router
}
