package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/crypto_gateway/chain"
	"github.com/crypto_gateway/repository"
	"github.com/crypto_gateway/service"
)

// httpStatus maps domain errors onto response codes.
func httpStatus(err error) int {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, repository.ErrPoolExhausted) {
		return http.StatusConflict
	}
	var ce *chain.Error
	if errors.As(err, &ce) {
		switch ce.Kind {
		case chain.KindInvalidInput:
			return http.StatusBadRequest
		case chain.KindNotFound:
			return http.StatusNotFound
		case chain.KindNotSupported:
			return http.StatusUnprocessableEntity
		}
	}
	return http.StatusInternalServerError
}

type WalletHandler struct {
	svc *service.WalletService
}

func NewWalletHandler(svc *service.WalletService) *WalletHandler {
	return &WalletHandler{svc: svc}
}

// POST /api/wallets
func (h *WalletHandler) CreateWallet(c *gin.Context) {
	var req struct {
		OwnerID       uint64 `json:"owner_id" binding:"required"`
		WebhookURL    string `json:"webhook_url"`
		WebhookSecret string `json:"webhook_secret"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	w, mnemonic, err := h.svc.CreateWallet(c.Request.Context(), req.OwnerID, req.WebhookURL, req.WebhookSecret)
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	// the mnemonic is shown exactly once and never stored in clear
	c.JSON(http.StatusCreated, gin.H{"wallet": w, "mnemonic": mnemonic})
}

// POST /api/wallets/:id/addresses
func (h *WalletHandler) GenerateAddress(c *gin.Context) {
	walletID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wallet id"})
		return
	}
	var req struct {
		Chain string `json:"chain" binding:"required"`
		Label string `json:"label"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	addr, err := h.svc.GenerateAddress(c.Request.Context(), walletID, req.Chain, req.Label)
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, addr)
}

// GET /api/wallets/:id/addresses?chain=BTC
func (h *WalletHandler) ListAddresses(c *gin.Context) {
	walletID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wallet id"})
		return
	}
	list, err := h.svc.ListAddresses(c.Request.Context(), walletID, c.Query("chain"))
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"addresses": list})
}

// GET /api/addresses/:address/balance
func (h *WalletHandler) GetBalance(c *gin.Context) {
	addr, err := h.svc.GetCachedBalance(c.Request.Context(), c.Param("address"))
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"address":            addr.Address,
		"chain":              addr.Chain,
		"balance":            addr.Balance,
		"balance_checked_at": addr.BalanceCheckedAt,
	})
}

// DELETE /api/addresses/:id
func (h *WalletHandler) DeactivateAddress(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address id"})
		return
	}
	if err := h.svc.DeactivateAddress(c.Request.Context(), id); err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deactivated": true})
}
