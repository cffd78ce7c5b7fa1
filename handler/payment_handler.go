package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/crypto_gateway/service"
)

type PaymentRequestHandler struct {
	svc *service.PaymentRequestService
}

func NewPaymentRequestHandler(svc *service.PaymentRequestService) *PaymentRequestHandler {
	return &PaymentRequestHandler{svc: svc}
}

// POST /api/payment-requests
func (h *PaymentRequestHandler) Create(c *gin.Context) {
	var req struct {
		Chain            string `json:"chain" binding:"required"`
		Amount           string `json:"amount" binding:"required"`
		CallbackURL      string `json:"callback_url"`
		ExpiresInMinutes int    `json:"expires_in_minutes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	pr, err := h.svc.Create(c.Request.Context(), req.Chain, amount, req.CallbackURL,
		time.Duration(req.ExpiresInMinutes)*time.Minute)
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, pr)
}

// GET /api/payment-requests/:id re-checks confirmations before answering.
func (h *PaymentRequestHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment request id"})
		return
	}
	pr, err := h.svc.CheckStatus(c.Request.Context(), id)
	if err != nil {
		if pr == nil {
			c.JSON(httpStatus(err), gin.H{"error": err.Error()})
			return
		}
		// Stored state is still authoritative, but the caller should know
		// the live re-check could not run (view-key-only chains).
		c.JSON(http.StatusOK, gin.H{"payment_request": pr, "warning": err.Error()})
		return
	}
	c.JSON(http.StatusOK, pr)
}

// POST /api/pool-addresses
func (h *PaymentRequestHandler) AddPoolAddress(c *gin.Context) {
	var req struct {
		Chain   string `json:"chain" binding:"required"`
		Address string `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.AddPoolAddress(c.Request.Context(), req.Chain, req.Address); err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"added": true})
}
