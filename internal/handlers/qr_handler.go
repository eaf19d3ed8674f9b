package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/headlinehero/backend/internal/services"
)

type QRHandler struct {
	service   *services.QRService
	validator *services.ValidationHelper
}

func NewQRHandler(service *services.QRService) *QRHandler {
	return &QRHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// GenerateCheckoutQR issues a QR code for an existing payment order
// @Summary Generate checkout QR code
// @Description Generate a short-lived QR code so the order can be paid from another device
// @Tags QR
// @Produce json
// @Security BearerAuth
// @Param orderId path string true "Payment order ID"
// @Success 200 {object} object{qrCode=string,qrImage=string}
// @Failure 401 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /payment/orders/{orderId}/qr [get]
func (h *QRHandler) GenerateCheckoutQR(w http.ResponseWriter, r *http.Request) {
	raw, ok := r.Context().Value("userID").(string)
	if !ok || raw == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	orderID := chi.URLParam(r, "orderId")
	if orderID == "" {
		services.SendErrorResponse(w, "Order id required", http.StatusBadRequest, nil)
		return
	}

	qrCode, qrImage, err := h.service.GenerateCheckoutQR(r.Context(), orderID, userID)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			services.SendErrorResponse(w, "Order not found", http.StatusNotFound, nil)
			return
		}
		services.SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"qrCode":  qrCode,
		"qrImage": qrImage,
	})
}

// ResolveCheckoutQR redeems a scanned checkout QR code
// @Summary Resolve checkout QR code
// @Description Resolve a scanned QR code into its order details; each code resolves once
// @Tags QR
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{qrData=string} true "QR resolution request"
// @Success 200 {object} object{data=object}
// @Failure 400 {object} services.ErrorResponse
// @Router /qr/resolve [post]
func (h *QRHandler) ResolveCheckoutQR(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QRData string `json:"qrData" validate:"required"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := h.service.ResolveCheckoutQR(r.Context(), req.QRData)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"data":    result,
	})
}
