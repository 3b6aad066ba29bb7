package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"order-tracking-service/internal/middleware"
	"order-tracking-service/internal/model"
)

// RegisterRoutes arma todas las rutas sobre el router.
func RegisterRoutes(r *gin.Engine, ctrl *OrderController, stream *StreamController, auth middleware.TokenValidator) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Rutas protegidas (requieren token)
	authed := r.Group("/")
	authed.Use(middleware.AuthMiddleware(auth))

	customer := middleware.RequireRole(model.RoleCustomer)
	authed.POST("/orders", customer, ctrl.CreateOrder)
	authed.POST("/orders/quote", customer, ctrl.Quote)
	authed.GET("/orders/mine", customer, ctrl.GetMyOrders)
	authed.POST("/orders/:orderId/cancel", customer, ctrl.CancelOrder)

	authed.GET("/orders/:orderId", ctrl.GetOrder)
	authed.GET("/orders/:orderId/status", ctrl.GetLatestStatus)
	authed.GET("/orders/:orderId/location", ctrl.GetRiderLocation)
	authed.GET("/orders/:orderId/tracking", ctrl.GetTracking)

	// Rutas rider
	rider := authed.Group("/rider")
	rider.Use(middleware.RequireRole(model.RoleRider))
	rider.GET("/orders", ctrl.GetRiderOrders)
	rider.PATCH("/orders/:orderId/status", ctrl.UpdateStatus)
	rider.POST("/orders/:orderId/location", ctrl.UpdateRiderLocation)
	rider.POST("/orders/:orderId/complete", ctrl.CompleteOrder)

	// Rutas owner
	owner := authed.Group("/owner")
	owner.Use(middleware.RequireRole(model.RoleOwner))
	owner.GET("/orders", ctrl.GetAllOrders)
	owner.GET("/orders/state/:state", ctrl.GetAllOrdersByState)
	owner.GET("/orders-with-status", ctrl.GetAllOrdersWithLatest)
	owner.GET("/dashboard", ctrl.Dashboard)

	// Websockets
	ws := authed.Group("/ws")
	ws.GET("/orders/:orderId/track", stream.TrackOrder)
	ws.GET("/rider/feed", middleware.RequireRole(model.RoleRider, model.RoleOwner), stream.RiderFeed)
}
