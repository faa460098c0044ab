package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-billing-api/internal/dto"
	"github.com/noah-isme/lms-billing-api/internal/middleware"
	"github.com/noah-isme/lms-billing-api/internal/models"
	"github.com/noah-isme/lms-billing-api/internal/service"
	appErrors "github.com/noah-isme/lms-billing-api/pkg/errors"
	"github.com/noah-isme/lms-billing-api/pkg/response"
)

type feeService interface {
	StudentFees(ctx context.Context, courseID, studentID string) (*dto.FeeStatusResponse, error)
	CourseFees(ctx context.Context, filter models.EnrollmentFilter) ([]dto.FeeStatusResponse, *models.Pagination, error)
	RecordPayment(ctx context.Context, in service.RecordPaymentInput) (*dto.RecordPaymentResponse, error)
	ChangeUnblock(ctx context.Context, in service.UnblockInput) (*dto.FeeStatusResponse, error)
	ExportLedger(ctx context.Context, courseID string) ([]byte, error)
}

// FeeHandler exposes the course fee ledger.
type FeeHandler struct {
	fees feeService
}

// NewFeeHandler constructs FeeHandler.
func NewFeeHandler(fees feeService) *FeeHandler {
	return &FeeHandler{fees: fees}
}

// Get godoc
// @Summary Course fee status
// @Description Students receive their own ledger. Staff receive one student's ledger with studentId, or the course roster without it.
// @Tags Fees
// @Produce json
// @Param id path string true "Course ID"
// @Param studentId query string false "Student ID (staff only)"
// @Param status query string false "Roster filter: Paid, Pending, Overdue or Blocked"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /courses/{id}/fees [get]
func (h *FeeHandler) Get(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	courseID := c.Param("id")

	studentID := c.Query("studentId")
	if !claims.Role.IsStaff() {
		studentID = claims.UserID
	}
	if studentID != "" {
		view, err := h.fees.StudentFees(c.Request.Context(), courseID, studentID)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, view, nil, middleware.ResponseMeta(c))
		return
	}

	filter := models.EnrollmentFilter{
		CourseID: courseID,
		Status:   models.FeeStatus(c.Query("status")),
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	views, pagination, err := h.fees.CourseFees(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, views, pagination, middleware.ResponseMeta(c))
}

// RecordPayment godoc
// @Summary Record a manual fee payment
// @Description Appends a payment covering monthCount cycles and advances the due date. The idempotency key may be sent in the Idempotency-Key header or the body. A replay answers 200 with the Idempotent-Replayed header.
// @Tags Fees
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param Idempotency-Key header string false "Idempotency key"
// @Param payload body dto.RecordPaymentRequest true "Payment"
// @Success 201 {object} response.Envelope
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /courses/{id}/fees [post]
func (h *FeeHandler) RecordPayment(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.RecordPaymentRequest
	if !bindJSON(c, &req) {
		return
	}
	key := strings.TrimSpace(c.GetHeader(IdempotencyHeader))
	if key == "" {
		key = strings.TrimSpace(req.IdempotencyKey)
	}

	res, err := h.fees.RecordPayment(c.Request.Context(), service.RecordPaymentInput{
		CourseID:       c.Param("id"),
		StudentID:      req.StudentID,
		Amount:         req.Amount,
		MonthCount:     req.MonthCount,
		Method:         req.Method,
		IdempotencyKey: key,
		RecordedBy:     claims.UserID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Idempotent(c, res, res.Replayed)
}

// ChangeUnblock godoc
// @Summary Unblock workflow action
// @Description Students send "request" for themselves. Admins send "approve", "reject" or "block" with the studentId.
// @Tags Fees
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body dto.UnblockActionRequest true "Action"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /courses/{id}/fees [put]
func (h *FeeHandler) ChangeUnblock(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.UnblockActionRequest
	if !bindJSON(c, &req) {
		return
	}
	studentID := req.StudentID
	if studentID == "" && claims.Role == models.RoleStudent {
		studentID = claims.UserID
	}

	view, err := h.fees.ChangeUnblock(c.Request.Context(), service.UnblockInput{
		CourseID:  c.Param("id"),
		StudentID: studentID,
		Action:    strings.ToLower(strings.TrimSpace(req.Action)),
		Note:      req.Note,
		ActorID:   claims.UserID,
		ActorRole: claims.Role,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil, middleware.ResponseMeta(c))
}

// Export godoc
// @Summary Export the course fee ledger
// @Tags Fees
// @Produce text/csv
// @Param id path string true "Course ID"
// @Success 200 {file} file
// @Security BearerAuth
// @Router /courses/{id}/fees/export [get]
func (h *FeeHandler) Export(c *gin.Context) {
	courseID := c.Param("id")
	if courseID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "course is required"))
		return
	}
	body, err := h.fees.ExportLedger(c.Request.Context(), courseID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, fmt.Sprintf("fees-%s.csv", courseID), "text/csv", body)
}
