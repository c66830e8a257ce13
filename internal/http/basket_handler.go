package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fjod/go_basket/internal/address"
	"github.com/fjod/go_basket/internal/basket"
	"github.com/fjod/go_basket/internal/checkout"
	"github.com/fjod/go_basket/internal/domain"
	"github.com/fjod/go_basket/internal/registry"
	"github.com/fjod/go_basket/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Sessions resolves a basket id to its session
type Sessions interface {
	Get(ctx context.Context, id string) (*registry.Session, error)
}

type BasketHandler struct {
	sessions Sessions
	timeout  time.Duration
	validate *validator.Validate
	log      *zap.Logger
}

func NewBasketHandler(sessions Sessions, timeout time.Duration, log *zap.Logger) *BasketHandler {
	return &BasketHandler{
		sessions: sessions,
		timeout:  timeout,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      logger.OrNop(log),
	}
}

func (h *BasketHandler) session(w http.ResponseWriter, r *http.Request) (context.Context, context.CancelFunc, *registry.Session, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)

	s, err := h.sessions.Get(ctx, chi.URLParam(r, "basket_id"))
	if err != nil {
		cancel()
		h.logFailure(r, "failed to open basket", err)
		handleError(w, err)
		return nil, nil, nil, false
	}
	return ctx, cancel, s, true
}

// decode parses and validates the JSON body into dst
func (h *BasketHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "request failed validation",
			Code:    "invalid_request",
			Details: err.Error(),
		})
		return false
	}
	return true
}

func (h *BasketHandler) logFailure(r *http.Request, msg string, err error) {
	logger.FromContext(r.Context(), h.log).Warn(msg,
		zap.String("request_id", getRequestID(r.Context())),
		zap.String("basket_id", chi.URLParam(r, "basket_id")),
		zap.Error(err))
}

func (h *BasketHandler) GetBasket(w http.ResponseWriter, r *http.Request) {
	_, cancel, s, ok := h.session(w, r)
	if !ok {
		return
	}
	defer cancel()

	respondJSON(w, http.StatusOK, s.Engine.View())
}

// RenderBasket answers with the priced view. Without an order gateway it is
// the local one.
func (h *BasketHandler) RenderBasket(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, s, ok := h.session(w, r)
	if !ok {
		return
	}
	defer cancel()

	var last domain.View
	err := s.Engine.Render(ctx, func(v domain.View) {
		last = v
	})
	if err != nil {
		h.logFailure(r, "render failed", err)
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, last)
}

func (h *BasketHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, s, ok := h.session(w, r)
	if !ok {
		return
	}
	defer cancel()

	var req AddItemRequestDTO
	if !h.decode(w, r, &req) {
		return
	}

	res, err := s.Engine.Add(ctx, req.lineItem())
	if err != nil {
		h.logFailure(r, "add item failed", err)
		handleError(w, err)
		return
	}
	h.respondMutation(w, s, res, http.StatusCreated)
}

func (h *BasketHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, s, ok := h.session(w, r)
	if !ok {
		return
	}
	defer cancel()

	var req UpdateQuantityRequestDTO
	if !h.decode(w, r, &req) {
		return
	}

	res, err := s.Engine.Update(ctx, domain.LineItem{
		ID:       chi.URLParam(r, "item_id"),
		Quantity: int(req.Quantity),
	})
	if err != nil {
		h.logFailure(r, "update quantity failed", err)
		handleError(w, err)
		return
	}
	h.respondMutation(w, s, res, http.StatusOK)
}

func (h *BasketHandler) respondMutation(w http.ResponseWriter, s *registry.Session, res basket.Result, acceptedStatus int) {
	switch res.Status {
	case basket.StatusRejected:
		respondJSON(w, http.StatusUnprocessableEntity, RejectionResponse{
			Error:      "item rejected",
			Code:       "rejected",
			Violations: res.Violations.Presentable(),
		})
	case basket.StatusAccepted:
		respondJSON(w, acceptedStatus, MutationResponse{Status: res.Status.String(), View: s.Engine.View()})
	default:
		respondJSON(w, http.StatusOK, MutationResponse{Status: res.Status.String(), View: s.Engine.View()})
	}
}

func (h *BasketHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, s, ok := h.session(w, r)
	if !ok {
		return
	}
	defer cancel()

	if err := s.Engine.Remove(ctx, domain.LineItem{ID: chi.URLParam(r, "item_id")}); err != nil {
		h.logFailure(r, "remove item failed", err)
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.Engine.View())
}

func (h *BasketHandler) ClearBasket(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, s, ok := h.session(w, r)
	if !ok {
		return
	}
	defer cancel()

	if err := s.Engine.Clear(ctx); err != nil {
		h.logFailure(r, "clear basket failed", err)
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.Engine.View())
}

func (h *BasketHandler) SetCoupon(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, s, ok := h.session(w, r)
	if !ok {
		return
	}
	defer cancel()

	var req CouponRequestDTO
	if !h.decode(w, r, &req) {
		return
	}

	if err := s.Engine.SetCouponCode(ctx, req.Code); err != nil {
		h.logFailure(r, "set coupon failed", err)
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.Engine.View())
}

func (h *BasketHandler) SetAddress(w http.ResponseWriter, r *http.Request) {
	_, cancel, s, ok := h.session(w, r)
	if !ok {
		return
	}
	defer cancel()

	kind, err := address.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		handleError(w, err)
		return
	}

	var req AddressRequestDTO
	if !h.decode(w, r, &req) {
		return
	}

	a := domain.Address{Label: req.Label, Addressee: req.Addressee}
	s.Addresses.Select(kind, a)
	respondJSON(w, http.StatusOK, a)
}

func (h *BasketHandler) SetProvider(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, s, ok := h.session(w, r)
	if !ok {
		return
	}
	defer cancel()

	var req ProviderRequestDTO
	if !h.decode(w, r, &req) {
		return
	}

	if err := s.Providers.SetProvider(ctx, req.Provider); err != nil {
		h.logFailure(r, "set provider failed", err)
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, req)
}

func (h *BasketHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, s, ok := h.session(w, r)
	if !ok {
		return
	}
	defer cancel()

	var req CheckoutRequestDTO
	if !h.decode(w, r, &req) {
		return
	}

	res, err := s.Checkout.Submit(ctx, checkout.Form{
		Locale:             req.Locale,
		Provider:           req.Provider,
		TermsAndConditions: req.TermsAndConditions,
		Comment:            req.Comment,
	})
	if err != nil {
		h.logFailure(r, "checkout failed", err)
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
