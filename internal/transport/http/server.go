package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"chatrelay/internal/ai"
	appsvc "chatrelay/internal/app"
	"chatrelay/internal/bootstrap"
	"chatrelay/internal/cache"
	"chatrelay/internal/platform/rabbitmq"
	"chatrelay/internal/relay"
	"chatrelay/internal/repository"
	"chatrelay/internal/transport/http/handler"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	chatRepo := repository.NewChatRepository(app.MySQL)
	messageRepo := repository.NewMessageRepository(app.MySQL)
	publisher := rabbitmq.NewMessagePublisher(app.MQConn, app.Config.RabbitMQ.MessagePersistQueue)
	historyCache := cache.NewHistoryCache(
		app.Redis,
		time.Duration(app.Config.Redis.HistoryTTLSeconds)*time.Second,
		time.Duration(app.Config.Redis.HistoryDirtyTTLSeconds)*time.Second,
	)

	chatService := appsvc.NewChatService(chatRepo, messageRepo, publisher, historyCache, app.Log)
	gateway := ai.NewClient(ai.Config{
		BaseURL: app.Config.LLM.BaseURL,
		APIKey:  app.Config.LLM.APIKey,
		Model:   app.Config.LLM.Model,
	})
	streamRelay := relay.NewRelay(chatService, app.Log, app.Config.Relay.MaxReplyBytes)

	chatHandler := handler.NewChatHandler(chatService)
	messageHandler := handler.NewMessageHandler(chatService)
	generateHandler := handler.NewGenerateHandler(gateway, streamRelay, chatService, app.Log)

	v1 := router.Group("/api/v1")

	chats := v1.Group("/chats")
	chats.GET("", chatHandler.ListChats)
	chats.POST("", chatHandler.CreateChat)
	chats.GET("/:id", chatHandler.GetChat)
	chats.PUT("/:id", chatHandler.RenameChat)
	chats.DELETE("/:id", chatHandler.DeleteChat)

	v1.GET("/messages", messageHandler.ListMessages)
	v1.POST("/messages", messageHandler.AppendMessage)

	v1.POST("/generate", generateHandler.Generate)
	v1.POST("/generate/stream", generateHandler.GenerateStream)
	v1.POST("/generate/mock", generateHandler.GenerateMock)

	return router
}
