package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/PulseChat/internal/handler"
	"github.com/Gopher0727/PulseChat/utils/ratelimit"
)

// PresenceView is what the router needs from the realtime hub.
type PresenceView interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
	OnlineUsers() []string
}

// NewRouter builds the gin engine with every route mounted.
func NewRouter(
	mode string,
	mw *MiddlewareManager,
	authHandler *handler.AuthHandler,
	messageHandler *handler.MessageHandler,
	hub PresenceView,
) *gin.Engine {
	if mode != "" {
		gin.SetMode(mode)
	}
	r := gin.New()
	r.Use(mw.Recovery(), mw.Logger(), mw.CORS())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"online": len(hub.OnlineUsers()),
		})
	})
	r.GET("/ws", gin.WrapF(hub.ServeWS))

	RegisterRoutes(r, mw, authHandler, messageHandler)
	return r
}

// RegisterRoutes registers all API routes
func RegisterRoutes(
	r *gin.Engine,
	mw *MiddlewareManager,
	authHandler *handler.AuthHandler,
	messageHandler *handler.MessageHandler,
) {
	api := r.Group("/api")

	auth := api.Group("/auth")
	{
		auth.POST("/signup", mw.RateLimit(ratelimit.EndpointSignup), authHandler.Signup)
		auth.POST("/signin", mw.RateLimit(ratelimit.EndpointSignin), authHandler.Signin)
		auth.POST("/signout", authHandler.Signout)

		protected := auth.Group("", mw.JWTAuth(), mw.RateLimit(ratelimit.EndpointAPI))
		protected.GET("/check", authHandler.Check)
		protected.PUT("/update-profile", authHandler.UpdateProfile)
		protected.PUT("/update-user/:id", authHandler.UpdateUser)
		protected.PUT("/change-password", authHandler.ChangePassword)
	}

	messages := api.Group("/messages", mw.JWTAuth())
	{
		messages.GET("/users", mw.RateLimit(ratelimit.EndpointAPI), messageHandler.ListUsers)
		messages.GET("/:id", mw.RateLimit(ratelimit.EndpointAPI), messageHandler.GetMessages)
		messages.POST("/:id", mw.RateLimit(ratelimit.EndpointMessage), messageHandler.SendMessage)
	}
}
