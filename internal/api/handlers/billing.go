package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pulseboard/internal/billing"
	"pulseboard/internal/config"
	"pulseboard/internal/core"
	"pulseboard/internal/external"
	"pulseboard/internal/types"
)

// ---------------------------------------------------------------------------
// Interfaces for billing handler dependencies
// ---------------------------------------------------------------------------

// StripeSessionClient is the subset of external.StripeClient the billing
// endpoints need.
type StripeSessionClient interface {
	EnsureCustomer(ctx context.Context, user types.Actor) (string, error)
	CreateCheckoutSession(ctx context.Context, p external.CheckoutSessionParams) (*external.CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}

// CustomerDirectory is the subset of db.CustomerRepo the billing endpoints
// need: resolve the caller's Stripe customer and keep the local mirror warm
// so the portal works before the first webhook arrives.
type CustomerDirectory interface {
	Upsert(ctx context.Context, c *types.Customer) error
	GetByUserID(ctx context.Context, userID string) (*types.Customer, error)
}

// ---------------------------------------------------------------------------
// Request/response shapes
// ---------------------------------------------------------------------------

type checkoutRequest struct {
	PriceID             string            `json:"priceId" validate:"required"`
	BillingCycle        string            `json:"billingCycle" validate:"required,oneof=monthly yearly"`
	SuccessURL          string            `json:"successUrl" validate:"omitempty,url"`
	CancelURL           string            `json:"cancelUrl" validate:"omitempty,url"`
	AllowPromotionCodes *bool             `json:"allowPromotionCodes"`
	Metadata            map[string]string `json:"metadata"`
}

type checkoutResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

type portalRequest struct {
	ReturnURL string `json:"returnUrl" validate:"omitempty,url"`
}

type portalResponse struct {
	URL string `json:"url"`
}

// ---------------------------------------------------------------------------
// Billing Handler
// ---------------------------------------------------------------------------

// BillingHandler serves the authenticated checkout and portal endpoints.
type BillingHandler struct {
	stripe    StripeSessionClient
	customers CustomerDirectory
	catalog   *billing.Catalog
	cfg       *config.Config
	validator *core.Validator
	logger    *slog.Logger
}

// NewBillingHandler creates a new BillingHandler.
func NewBillingHandler(
	stripe StripeSessionClient,
	customers CustomerDirectory,
	catalog *billing.Catalog,
	cfg *config.Config,
	v *core.Validator,
	logger *slog.Logger,
) *BillingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingHandler{
		stripe:    stripe,
		customers: customers,
		catalog:   catalog,
		cfg:       cfg,
		validator: v,
		logger:    logger,
	}
}

// RegisterRoutes mounts the billing endpoints. Mounted under the
// authenticated /v1 subtree by core.Server.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Route("/billing", func(r chi.Router) {
		r.Post("/checkout", h.CreateCheckoutSession)
		r.Post("/portal", h.CreatePortalSession)
	})
}

// CreateCheckoutSession starts a subscription-mode Stripe Checkout flow for
// the authenticated user and returns the session ID and redirect URL.
func (h *BillingHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if !h.catalog.ValidPriceID(req.PriceID, billing.BillingCycle(req.BillingCycle)) {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidPrice,
			"unknown price ID for the requested billing cycle",
			nil,
		))
		return
	}
	plan, _ := h.catalog.PlanByPriceID(req.PriceID)

	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing,
			"authentication required",
			nil,
		))
		return
	}

	customerID, err := h.stripe.EnsureCustomer(r.Context(), actor)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	// Mirror the customer locally right away so the portal endpoint works
	// before the customer.created webhook lands.
	if err := h.customers.Upsert(r.Context(), &types.Customer{
		StripeCustomerID: customerID,
		Email:            actor.PrimaryEmail,
		Name:             actor.DisplayName,
		UserID:           actor.ID,
	}); err != nil {
		core.Error(w, r, err)
		return
	}

	urls := types.RedirectURLs{
		Success: h.cfg.CheckoutSuccessURL(),
		Cancel:  h.cfg.CheckoutCancelURL(),
	}
	if req.SuccessURL != "" {
		urls.Success = req.SuccessURL
	}
	if req.CancelURL != "" {
		urls.Cancel = req.CancelURL
	}

	allowPromos := h.cfg.Stripe.AllowPromotionCodes
	if req.AllowPromotionCodes != nil {
		allowPromos = *req.AllowPromotionCodes
	}

	metadata := map[string]string{"user_id": actor.ID}
	for k, v := range req.Metadata {
		if k != "user_id" {
			metadata[k] = v
		}
	}

	session, err := h.stripe.CreateCheckoutSession(r.Context(), external.CheckoutSessionParams{
		CustomerID:               customerID,
		PriceID:                  req.PriceID,
		URLs:                     urls,
		AllowPromotionCodes:      allowPromos,
		BillingAddressCollection: h.cfg.Stripe.BillingAddressCollection,
		AutomaticTax:             h.cfg.Stripe.AutomaticTaxEnabled,
		TrialDays:                plan.TrialDays,
		Metadata:                 metadata,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "checkout session created",
		"user_id", actor.ID,
		"stripe_customer_id", customerID,
		"price_id", req.PriceID,
		"session_id", session.ID,
	)

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: checkoutResponse{
		SessionID: session.ID,
		URL:       session.URL,
	}})
}

// CreatePortalSession returns a Stripe Billing Portal URL for the
// authenticated user. 404 when the user has no Stripe customer yet.
func (h *BillingHandler) CreatePortalSession(w http.ResponseWriter, r *http.Request) {
	var req portalRequest
	if r.ContentLength != 0 {
		if err := core.DecodeJSON(w, r, &req); err != nil {
			core.Error(w, r, err)
			return
		}
		if err := h.validator.ValidateStruct(req); err != nil {
			core.Error(w, r, err)
			return
		}
	}

	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing,
			"authentication required",
			nil,
		))
		return
	}

	customer, err := h.customers.GetByUserID(r.Context(), actor.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = h.cfg.Server.AppURL + "/settings/billing"
	}

	portalURL, err := h.stripe.CreatePortalSession(r.Context(), customer.StripeCustomerID, returnURL)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: portalResponse{URL: portalURL}})
}
