package controller

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"order-tracking-service/internal/dto"
	"order-tracking-service/internal/middleware"
	"order-tracking-service/internal/model"
	"order-tracking-service/internal/service"
)

type OrderController struct {
	Service *service.OrderService
}

func NewOrderController(s *service.OrderService) *OrderController {
	return &OrderController{Service: s}
}

// respondError traduce los errores del servicio a códigos HTTP.
func respondError(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	var ve *service.ValidationError
	if errors.As(err, &ve) {
		body["fields"] = ve.Fields
	}
	c.JSON(httpStatus(err), body)
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrOTPLocked):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrOTPMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrInvalidTransition):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// canView: el cliente solo ve sus órdenes; riders y owner ven todas.
func canView(actor model.Actor, o *model.Order) bool {
	if c, ok := actor.(model.Customer); ok {
		return c.Phone == o.CustomerPhone
	}
	return true
}

// visible oculta el OTP a todos menos al cliente dueño.
func visible(actor model.Actor, o *model.Order) *model.Order {
	if _, ok := actor.(model.Customer); ok {
		return o
	}
	return o.WithoutOTP()
}

func visibleList(actor model.Actor, orders []*model.Order) []*model.Order {
	out := make([]*model.Order, len(orders))
	for i, o := range orders {
		out[i] = visible(actor, o)
	}
	return out
}

func actorOf(c *gin.Context) model.Actor {
	a, _ := middleware.CurrentActor(c)
	return a
}

func itemInputs(items []dto.CartItemDTO) []service.ItemInput {
	out := make([]service.ItemInput, len(items))
	for i, it := range items {
		in := service.ItemInput{
			ProductID:    it.ProductID,
			Name:         it.Name,
			Quantity:     it.Quantity,
			BasePrice:    it.Price,
			Instructions: it.Instructions,
		}
		if it.Size != nil {
			in.Size = &model.Option{Name: it.Size.Name, Price: it.Size.Price}
		}
		for _, a := range it.Addons {
			in.Addons = append(in.Addons, model.Option{Name: a.Name, Price: a.Price})
		}
		out[i] = in
	}
	return out
}

// POST /orders - customer
func (ctl *OrderController) CreateOrder(c *gin.Context) {
	var req dto.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	customer, ok := actorOf(c).(model.Customer)
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "only customers can place orders"})
		return
	}

	o, err := ctl.Service.CreateOrder(c.Request.Context(), service.CreateOrderInput{
		Items:         itemInputs(req.Items),
		Address:       req.DeliveryAddress.ToModel(),
		PaymentMethod: model.PaymentMethod(req.PaymentMethod),
		CouponCode:    req.CouponCode,
		DeclaredTotal: req.Total,
		Customer:      customer,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, o)
}

// POST /orders/quote - calcula el total del checkout
func (ctl *OrderController) Quote(c *gin.Context) {
	var req dto.QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	q, err := ctl.Service.QuoteCart(itemInputs(req.Items), req.CouponCode)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

// GET /orders/mine - customer
func (ctl *OrderController) GetMyOrders(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	orders, err := ctl.Service.GetByCustomer(c.Request.Context(), user.Phone)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

// GET /orders/:orderId
func (ctl *OrderController) GetOrder(c *gin.Context) {
	actor := actorOf(c)
	o, err := ctl.Service.GetOrder(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !canView(actor, o) {
		c.JSON(http.StatusForbidden, gin.H{"error": "you cannot view another user's order"})
		return
	}
	c.JSON(http.StatusOK, visible(actor, o))
}

// authorizeRead deja pasar órdenes inexistentes: status y location tienen
// valores por defecto para ellas.
func (ctl *OrderController) authorizeRead(c *gin.Context, orderID string) bool {
	o, err := ctl.Service.GetOrder(c.Request.Context(), orderID)
	if errors.Is(err, service.ErrNotFound) {
		return true
	}
	if err != nil {
		respondError(c, err)
		return false
	}
	if !canView(actorOf(c), o) {
		c.JSON(http.StatusForbidden, gin.H{"error": "you cannot view another user's order"})
		return false
	}
	return true
}

// GET /orders/:orderId/status
func (ctl *OrderController) GetLatestStatus(c *gin.Context) {
	orderID := c.Param("orderId")
	if !ctl.authorizeRead(c, orderID) {
		return
	}
	st, err := ctl.Service.GetStatus(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.StatusResponse{OrderID: orderID, Status: st})
}

// GET /orders/:orderId/location
func (ctl *OrderController) GetRiderLocation(c *gin.Context) {
	orderID := c.Param("orderId")
	if !ctl.authorizeRead(c, orderID) {
		return
	}
	loc, err := ctl.Service.GetRiderLocation(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.LocationResponse{OrderID: orderID, Location: loc})
}

// GET /orders/:orderId/tracking
func (ctl *OrderController) GetTracking(c *gin.Context) {
	orderID := c.Param("orderId")
	o, err := ctl.Service.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !canView(actorOf(c), o) {
		c.JSON(http.StatusForbidden, gin.H{"error": "you cannot view another user's order"})
		return
	}
	view, err := ctl.Service.Track(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// POST /orders/:orderId/cancel - customer
func (ctl *OrderController) CancelOrder(c *gin.Context) {
	var req dto.CancelRequest
	// el body es opcional
	_ = c.ShouldBindJSON(&req)

	orderID := c.Param("orderId")
	if err := ctl.Service.CancelOrder(c.Request.Context(), orderID, actorOf(c), req.Reason); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.StatusResponse{OrderID: orderID, Status: model.StatusCancelled})
}

// GET /rider/orders - rider, opcionalmente ?status=
func (ctl *OrderController) GetRiderOrders(c *gin.Context) {
	var (
		orders []*model.Order
		err    error
	)
	if st := c.Query("status"); st != "" {
		orders, err = ctl.Service.GetByStatus(c.Request.Context(), model.Status(st))
	} else {
		orders, err = ctl.Service.GetAll(c.Request.Context())
	}
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]dto.RiderOrder, len(orders))
	for i, o := range orders {
		next := service.NextStatuses(o.Status, model.RoleRider)
		if next == nil {
			next = []model.Status{}
		}
		out[i] = dto.RiderOrder{Order: o.WithoutOTP(), NextStatuses: next}
	}
	c.JSON(http.StatusOK, out)
}

// PATCH /rider/orders/:orderId/status - rider
func (ctl *OrderController) UpdateStatus(c *gin.Context) {
	orderID := c.Param("orderId")

	var req dto.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status := model.Status(req.Status)
	err := ctl.Service.UpdateStatus(c.Request.Context(), orderID, status, actorOf(c), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.StatusResponse{OrderID: orderID, Status: status})
}

// POST /rider/orders/:orderId/location - rider
func (ctl *OrderController) UpdateRiderLocation(c *gin.Context) {
	var req dto.LocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	orderID := c.Param("orderId")
	if err := ctl.Service.UpdateRiderLocation(c.Request.Context(), orderID, *req.Lat, *req.Lng); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /rider/orders/:orderId/complete - rider con el OTP del cliente
func (ctl *OrderController) CompleteOrder(c *gin.Context) {
	var req dto.CompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	orderID := c.Param("orderId")
	if err := ctl.Service.VerifyAndComplete(c.Request.Context(), orderID, req.OTP, actorOf(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.StatusResponse{OrderID: orderID, Status: model.StatusDelivered})
}

// GET /owner/orders - owner
func (ctl *OrderController) GetAllOrders(c *gin.Context) {
	orders, err := ctl.Service.GetAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, visibleList(actorOf(c), orders))
}

// GET /owner/orders/state/:state - owner
func (ctl *OrderController) GetAllOrdersByState(c *gin.Context) {
	state := model.Status(c.Param("state"))
	orders, err := ctl.Service.GetByStatus(c.Request.Context(), state)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, visibleList(actorOf(c), orders))
}

// GET /owner/orders-with-status - resumen liviano para la tabla del owner
func (ctl *OrderController) GetAllOrdersWithLatest(c *gin.Context) {
	orders, err := ctl.Service.GetAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]gin.H, 0, len(orders))
	for _, o := range orders {
		var changedAt any
		if cur := o.CurrentRecord(); cur != nil {
			changedAt = cur.Timestamp
		}
		out = append(out, gin.H{
			"orderId":       o.ID,
			"customerName":  o.CustomerName,
			"customerPhone": o.CustomerPhone,
			"status":        o.Status,
			"total":         o.Total,
			"changedAt":     changedAt,
		})
	}

	c.JSON(http.StatusOK, out)
}

// GET /owner/dashboard - owner
func (ctl *OrderController) Dashboard(c *gin.Context) {
	d, err := ctl.Service.Dashboard(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}
