package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-billing-api/internal/dto"
	"github.com/noah-isme/lms-billing-api/pkg/gateway"
	"github.com/noah-isme/lms-billing-api/pkg/response"
)

type paymentService interface {
	CreateOrder(ctx context.Context, studentID string, req dto.CreateOrderRequest) (*dto.CreateOrderResponse, error)
	Verify(ctx context.Context, studentID string, req dto.VerifyPaymentRequest) (*dto.VerifyPaymentResponse, error)
	HandleNotification(ctx context.Context, n gateway.Notification) (*dto.NotificationAck, error)
}

// PaymentHandler exposes online checkout through the payment gateway.
type PaymentHandler struct {
	payments paymentService
}

// NewPaymentHandler constructs PaymentHandler.
func NewPaymentHandler(payments paymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// CreateOrder godoc
// @Summary Open a gateway order for the next fee cycles
// @Description The amount is computed from the enrollment fee, never taken from the client.
// @Tags Payments
// @Accept json
// @Produce json
// @Param payload body dto.CreateOrderRequest true "Order"
// @Success 201 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Security BearerAuth
// @Router /payment/create-order [post]
func (h *PaymentHandler) CreateOrder(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.CreateOrderRequest
	if !bindJSON(c, &req) {
		return
	}
	order, err := h.payments.CreateOrder(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, order)
}

// Verify godoc
// @Summary Verify a completed checkout
// @Description Confirms the transaction with the payment provider and records the payment once. Repeats return the recorded payment with the Idempotent-Replayed header.
// @Tags Payments
// @Accept json
// @Produce json
// @Param payload body dto.VerifyPaymentRequest true "Gateway callback"
// @Success 201 {object} response.Envelope
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Security BearerAuth
// @Router /payment/verify [post]
func (h *PaymentHandler) Verify(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.VerifyPaymentRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.payments.Verify(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Idempotent(c, res, res.Payment.Replayed)
}

// Notification godoc
// @Summary Payment provider status notification
// @Tags Payments
// @Accept json
// @Produce json
// @Param payload body gateway.Notification true "Provider notification"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /payment/notifications [post]
func (h *PaymentHandler) Notification(c *gin.Context) {
	var n gateway.Notification
	if !bindJSON(c, &n) {
		return
	}
	ack, err := h.payments.HandleNotification(c.Request.Context(), n)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, ack, nil)
}
