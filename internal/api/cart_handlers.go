package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type cartItemRequest struct {
	ProductID int64 `json:"productId" binding:"required,gt=0"`
	Quantity  *int  `json:"quantity" binding:"required"`
}

// addCartItemRequest adds one unit when quantity is omitted.
type addCartItemRequest struct {
	ProductID int64 `json:"productId" binding:"required,gt=0"`
	Quantity  *int  `json:"quantity"`
}

const defaultAddQuantity = 1

func (h *Handler) getCart(c *gin.Context) {
	userID, err := userIDFrom(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	cart, err := h.carts.GetCart(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"cart": cart})
}

func (h *Handler) addCartItem(c *gin.Context) {
	userID, err := userIDFrom(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	var req addCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	quantity := defaultAddQuantity
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	cart, err := h.carts.AddItem(c.Request.Context(), userID, req.ProductID, quantity)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"cart": cart})
}

func (h *Handler) updateCartItem(c *gin.Context) {
	userID, err := userIDFrom(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	var req cartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	cart, err := h.carts.UpdateItem(c.Request.Context(), userID, req.ProductID, *req.Quantity)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"cart": cart})
}

func (h *Handler) removeCartItem(c *gin.Context) {
	userID, err := userIDFrom(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	productID, err := pathID(c, "productId")
	if err != nil {
		h.respondError(c, err)
		return
	}

	if err := h.carts.RemoveItem(c.Request.Context(), userID, productID); err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"message": "item removed"})
}

func (h *Handler) clearCart(c *gin.Context) {
	userID, err := userIDFrom(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if err := h.carts.Clear(c.Request.Context(), userID); err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"message": "cart cleared"})
}

func (h *Handler) deleteCart(c *gin.Context) {
	userID, err := userIDFrom(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if err := h.carts.Delete(c.Request.Context(), userID); err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"message": "cart deleted"})
}
