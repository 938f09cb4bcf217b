package gate

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-x402-gate/internal/scheme"
	"github.com/0gfoundation/0g-x402-gate/internal/upstream"
	"github.com/0gfoundation/0g-x402-gate/internal/x402"
)

// PrivateContent is served by /private-premium when no other content is set.
const PrivateContent = "This is premium content unlocked via private intent on Monad. No wallet address or tx hash was recorded."

// Handler mounts the gated routes on a Gin group.
type Handler struct {
	gate    *Gate
	paid    *scheme.Requirement
	private *scheme.Requirement
	content upstream.Content
	secret  upstream.Content
	log     *zap.Logger
}

// NewHandler serves content behind paid (exact) and secret behind private
// (commitment). secret may be nil.
func NewHandler(g *Gate, paid, private *scheme.Requirement, content, secret upstream.Content, log *zap.Logger) *Handler {
	if secret == nil {
		secret = upstream.NewStatic(PrivateContent)
	}
	return &Handler{gate: g, paid: paid, private: private, content: content, secret: secret, log: log}
}

func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/premium", h.handlePremium)
	rg.POST("/private-premium", h.handlePrivatePremium)
	rg.GET("/requirements", h.handleRequirements)
}

// ── Premium (exact scheme) ──────────────────────────────────────────────────

func (h *Handler) handlePremium(c *gin.Context) {
	header, legacy := x402.PaymentHeader(c.Request.Header)
	if header == "" {
		h.challenge(c, "payment required")
		return
	}

	proof, err := scheme.ParseOnChainProof(header)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment header"})
		return
	}

	ctx := c.Request.Context()
	out := h.gate.Evaluate(ctx, h.paid, proof)
	if !out.Accepted() {
		h.fail(c, out)
		return
	}

	answer, err := h.content.Answer(ctx, c.Query("prompt"))
	if err != nil {
		h.gate.Unfulfilled(ctx, h.paid, proof, out.Result, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	receipt, err := x402.EncodeHeader(x402.PaymentResponse{
		Success:     true,
		Transaction: out.Result.SettlementRef,
		Network:     out.Result.Network,
		Payer:       out.Result.Payer,
	})
	if err != nil {
		h.log.Error("encode payment response", zap.Error(err))
	} else {
		name := x402.HeaderPaymentResponse
		if legacy {
			name = x402.HeaderLegacyPaymentResponse
		}
		c.Header(name, receipt)
	}
	c.JSON(http.StatusOK, answer)
}

// ── Private premium (commitment scheme) ─────────────────────────────────────

func (h *Handler) handlePrivatePremium(c *gin.Context) {
	var proof scheme.RedemptionProof
	if err := c.ShouldBindJSON(&proof); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	ctx := c.Request.Context()
	out := h.gate.Evaluate(ctx, h.private, &proof)
	if !out.Accepted() {
		h.fail(c, out)
		return
	}

	answer, err := h.secret.Answer(ctx, "")
	if err != nil {
		h.gate.Unfulfilled(ctx, h.private, &proof, out.Result, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"content":    answer.Answer,
		"unlockedAt": answer.UnlockedAt,
	})
}

// ── Requirements ────────────────────────────────────────────────────────────

func (h *Handler) handleRequirements(c *gin.Context) {
	c.JSON(http.StatusOK, &x402.PaymentRequired{
		X402Version: x402.Version,
		Accepts:     []x402.PaymentRequirements{*h.paid.PaymentRequirements()},
	})
}

// ── Helpers ─────────────────────────────────────────────────────────────────

func (h *Handler) challenge(c *gin.Context, msg string) {
	body := h.gate.Challenge(h.paid, msg)
	encoded, err := x402.EncodeHeader(body)
	if err != nil {
		h.log.Error("encode payment required", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.Header(x402.HeaderPaymentRequired, encoded)
	c.JSON(http.StatusPaymentRequired, body)
}

// fail writes a rejection or fault. Faults never expose their cause.
func (h *Handler) fail(c *gin.Context, out Outcome) {
	switch {
	case out.Err != nil && out.Status == http.StatusBadGateway:
		c.JSON(out.Status, gin.H{"error": "payment facilitator unavailable"})
	case out.Err != nil:
		c.JSON(out.Status, gin.H{"error": "internal server error"})
	case out.Status == http.StatusBadRequest:
		c.JSON(out.Status, gin.H{"error": "missing or malformed commitment, nullifier, or secret"})
	default:
		c.JSON(out.Status, gin.H{"error": out.Result.Reason})
	}
}
