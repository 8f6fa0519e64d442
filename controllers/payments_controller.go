package controllers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	services "github.com/phillip/schoolfund-go/services"
)

const maxWebhookBody = 65536

func CreateCheckout(svc *services.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		donorID, ok := callerID(c)
		if !ok {
			return
		}
		var req monetaryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "campaignId and a positive amount are required"})
			return
		}
		input, ok := req.input(donorID)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid campaignId"})
			return
		}

		res, err := svc.Payments.CreateCheckout(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, res)
	}
}

func VerifySession(svc *services.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		donorID, ok := callerID(c)
		if !ok {
			return
		}
		res, err := svc.Payments.VerifySession(c.Request.Context(), c.Query("session_id"), donorID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// StripeWebhook must see the raw body; nothing may bind it before this.
func StripeWebhook(svc *services.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not read body"})
			return
		}
		if err := svc.Payments.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}
