package api

import (
	"net/http"
	"strconv"

	"storefront-service/internal/apperr"
	"storefront-service/internal/models"
	"storefront-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type createOrderRequest struct {
	UserID      int64                    `json:"usuarioId"`
	AddressID   *int64                   `json:"enderecoId"`
	CouponID    *int64                   `json:"cupomId"`
	ClientTotal *decimal.Decimal         `json:"precoTotal"`
	Items       []createOrderItemRequest `json:"items" binding:"required,min=1,dive"`
}

type createOrderItemRequest struct {
	ProductID int64 `json:"produtoId" binding:"required,gt=0"`
	Quantity  int   `json:"quantidade" binding:"required,gt=0"`
}

type updateStatusRequest struct {
	Status  string `json:"status" binding:"required"`
	ActorID int64  `json:"criadoPor" binding:"required,gt=0"`
	Note    string `json:"observacao"`
}

// createOrder handles order creation. The ordering user comes from the body
// and falls back to the X-User-ID header.
func (h *Handler) createOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	if req.UserID == 0 {
		userID, err := userIDFrom(c)
		if err != nil {
			h.respondError(c, err)
			return
		}
		req.UserID = userID
	}

	items := make([]service.OrderItemRequest, len(req.Items))
	for i, item := range req.Items {
		items[i] = service.OrderItemRequest{ProductID: item.ProductID, Quantity: item.Quantity}
	}

	order, err := h.orders.CreateOrder(c.Request.Context(), &service.CreateOrderRequest{
		UserID:         req.UserID,
		AddressID:      req.AddressID,
		CouponID:       req.CouponID,
		Items:          items,
		ClientTotal:    req.ClientTotal,
		IdempotencyKey: c.GetHeader(idempotencyKeyHeader),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	respondOK(c, http.StatusCreated, gin.H{"order": order})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, err := pathID(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"order": order})
}

// listUserOrders lists orders for ?usuarioId= or the calling user
func (h *Handler) listUserOrders(c *gin.Context) {
	var userID int64
	if raw := c.Query("usuarioId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.respondError(c, apperr.Validation("invalid usuarioId"))
			return
		}
		userID = id
	} else {
		id, err := userIDFrom(c)
		if err != nil {
			h.respondError(c, err)
			return
		}
		userID = id
	}

	orders, err := h.orders.ListOrdersByUser(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

func (h *Handler) listAllOrders(c *gin.Context) {
	orders, err := h.orders.ListOrders(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

func (h *Handler) updateOrderStatus(c *gin.Context) {
	orderID, err := pathID(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	order, err := h.orders.UpdateStatus(c.Request.Context(), orderID, req.Status, req.ActorID, req.Note)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"order": order})
}

func (h *Handler) getProduct(c *gin.Context) {
	productID, err := pathID(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}

	product, err := h.catalog.GetProduct(c.Request.Context(), productID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"product": product, "effective_price": product.EffectivePrice()})
}

func (h *Handler) updateProduct(c *gin.Context) {
	productID, err := pathID(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}

	var patch models.ProductPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		h.badRequest(c, err)
		return
	}

	product, err := h.catalog.UpdateProduct(c.Request.Context(), productID, patch)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"product": product, "effective_price": product.EffectivePrice()})
}
