package router

import (
	"github.com/gin-gonic/gin"

	"github.com/crypto_gateway/handler"
)

func SetupRouter(
	walletHandler *handler.WalletHandler,
	paymentHandler *handler.PaymentRequestHandler,
	monitorHandler *handler.MonitorHandler,
) *gin.Engine {
	r := gin.Default()

	api := r.Group("/api")
	{
		api.POST("/wallets", walletHandler.CreateWallet)
		api.POST("/wallets/:id/addresses", walletHandler.GenerateAddress)
		api.GET("/wallets/:id/addresses", walletHandler.ListAddresses)
		api.GET("/addresses/:address/balance", walletHandler.GetBalance)
		api.DELETE("/addresses/:id", walletHandler.DeactivateAddress)

		api.POST("/payment-requests", paymentHandler.Create)
		api.GET("/payment-requests/:id", paymentHandler.Get)
		api.POST("/pool-addresses", paymentHandler.AddPoolAddress)
	}

	// hit by the external scheduler (cron) on its own cadence
	internal := r.Group("/internal")
	{
		internal.POST("/monitor/run", monitorHandler.RunPass)
		internal.POST("/notifications/retry", monitorHandler.RetryNotifications)
	}

	return r
}
