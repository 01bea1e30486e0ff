package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/verbatimlab/verbatim/backend/internal/billing"
	"github.com/verbatimlab/verbatim/backend/internal/credits"
	"github.com/verbatimlab/verbatim/backend/internal/transcription"
	"github.com/verbatimlab/verbatim/backend/internal/users"
	"go.uber.org/zap"
)

type checkoutRequestPayload struct {
	PriceID string `json:"priceId"`
}

func (h *httpHandler) handleCheckout(c *gin.Context) {
	var request checkoutRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.PriceID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_price_id"})
		return
	}

	sessionID, err := h.billing.Checkout(c.Request.Context(), request.PriceID)
	if err != nil {
		if errors.Is(err, billing.ErrUnknownPrice) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_price_id"})
			return
		}
		h.logger.Error("checkout failed", zap.Error(err), zap.String("price_id", request.PriceID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "checkout_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"checkoutSessionId": sessionID})
}

func (h *httpHandler) handleRedeem(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sessionID := strings.TrimSpace(c.Query("session_id"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_session_id"})
		return
	}

	granted, err := h.ledger.Redeem(c.Request.Context(), userID, sessionID, h.billing.ResolveSession)
	if err != nil {
		switch {
		case errors.Is(err, credits.ErrAlreadyRedeemed):
			c.JSON(http.StatusConflict, gin.H{"error": "session_already_redeemed"})
		case errors.Is(err, billing.ErrPaymentIncomplete):
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "payment_not_completed"})
		case errors.Is(err, billing.ErrUnknownPrice):
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_price_id"})
		case errors.Is(err, billing.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
		default:
			h.logger.Error("redeem failed", zap.Error(err), zap.String("session_id", sessionID))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "redeem_failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"creditsGranted": granted})
}

func (h *httpHandler) handleTranscribe(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_file"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable_file"})
		return
	}
	defer file.Close()

	// One byte over the cap is enough for the service to reject the upload.
	audio, err := io.ReadAll(io.LimitReader(file, transcription.MaxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable_file"})
		return
	}

	opts := transcription.Options{
		Model:    c.PostForm("model"),
		Language: c.PostForm("language"),
		Prompt:   c.PostForm("prompt"),
		Format:   c.PostForm("format"),
	}

	result, err := h.transcriber.Transcribe(c.Request.Context(), userID, audio, fileHeader.Filename, opts)
	if err != nil {
		switch {
		case errors.Is(err, transcription.ErrUnsupportedFormat):
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_format"})
		case errors.Is(err, transcription.ErrFileTooLarge):
			c.JSON(http.StatusBadRequest, gin.H{"error": "file_too_large"})
		case errors.Is(err, transcription.ErrEmptyUpload):
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_file"})
		case errors.Is(err, transcription.ErrInsufficientCredits):
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient_credits"})
		default:
			h.logger.Error("transcription failed", zap.Error(err), zap.String("user_id", userID))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "transcription_failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"text": result.Text})
}

func (h *httpHandler) handleCredits(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if err := h.ledger.EnsureBootstrapped(c.Request.Context(), userID); err != nil {
		h.logger.Error("bootstrap grant failed", zap.Error(err), zap.String("user_id", userID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "balance_unavailable"})
		return
	}

	balance, err := h.ledger.Balance(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("balance lookup failed", zap.Error(err), zap.String("user_id", userID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "balance_unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

type pricingPlanPayload struct {
	Name    string `json:"name"`
	Price   int64  `json:"price"`
	Credits int64  `json:"credits"`
	PriceID string `json:"priceId"`
}

func (h *httpHandler) handlePricing(c *gin.Context) {
	plans := h.billing.Catalog().Plans()
	payload := make([]pricingPlanPayload, 0, len(plans))
	for _, plan := range plans {
		payload = append(payload, pricingPlanPayload{
			Name:    plan.Name,
			Price:   plan.PriceAmount,
			Credits: plan.CreditAmount,
			PriceID: plan.ExternalPriceID,
		})
	}
	c.JSON(http.StatusOK, gin.H{"plans": payload})
}

type inviteRequestPayload struct {
	Email  string `json:"email"`
	RoleID string `json:"roleId"`
}

func (h *httpHandler) handleCreateInvite(c *gin.Context) {
	var request inviteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Email) == "" || strings.TrimSpace(request.RoleID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	token, err := h.identities.CreateInvite(c.Request.Context(), request.Email, request.RoleID)
	if err != nil {
		if errors.Is(err, users.ErrInviteExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "invite_already_pending"})
			return
		}
		h.logger.Error("invite creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invite_failed"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "Invitation sent", "token": token})
}

func (h *httpHandler) handleConfirmInvite(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_token"})
		return
	}

	invite, err := h.identities.ConfirmInvite(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, users.ErrInviteNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "invite_not_found"})
			return
		}
		h.logger.Error("invite confirmation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invite_confirmation_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": invite.Status,
		"email":  invite.Email,
		"role":   invite.Role,
	})
}
