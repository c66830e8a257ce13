// Package checkout turns a basket into a purchase order, submits it and decides
// where the shopper goes next.
package checkout

import (
	"context"
	"fmt"
	"net/url"

	"github.com/fjod/go_basket/internal/address"
	"github.com/fjod/go_basket/internal/domain"
	"github.com/fjod/go_basket/pkg/logger"
	"go.uber.org/zap"
)

// Basket is the part of the basket engine checkout reads and clears.
type Basket interface {
	Items() []domain.LineItem
	CouponCode() string
	Clear(ctx context.Context) error
}

type Submitter interface {
	Submit(ctx context.Context, locale string, order domain.PurchaseOrder) (domain.SubmitResponse, error)
}

type Addresses interface {
	View(kind address.Kind) domain.Address
	Clear()
}

type Providers interface {
	Provider(ctx context.Context) (string, error)
}

type Flow string

const (
	FlowApproval     Flow = "approval"
	FlowConfirmation Flow = "confirmation"
)

// Form is what the shopper filled in on the checkout page.
type Form struct {
	Locale             string
	Provider           string
	TermsAndConditions bool
	Comment            string
}

type Result struct {
	Flow        Flow   `json:"flow"`
	ApprovalURL string `json:"approvalUrl,omitempty"`
	Redirect    string `json:"redirect"`
}

type Orchestrator struct {
	basket    Basket
	submitter Submitter
	addresses Addresses
	providers Providers
	log       *zap.Logger
}

func New(basket Basket, submitter Submitter, addresses Addresses, providers Providers, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		basket:    basket,
		submitter: submitter,
		addresses: addresses,
		providers: providers,
		log:       logger.OrNop(log),
	}
}

// Submit places the order built from the current basket. On success the basket
// and the address selection are cleared. Failures are returned untouched and
// never retried; the basket is left as it was.
func (o *Orchestrator) Submit(ctx context.Context, form Form) (Result, error) {
	if o.basket == nil || o.submitter == nil {
		return Result{}, ErrNoBasket
	}
	log := logger.FromContext(ctx, o.log)

	order, err := o.buildOrder(ctx, form)
	if err != nil {
		return Result{}, err
	}

	resp, err := o.submitter.Submit(ctx, form.Locale, order)
	if err != nil {
		log.Warn("order submission failed", zap.Error(err))
		return Result{}, fmt.Errorf("failed to submit order: %w", err)
	}

	// The order is placed at this point; a failed clear must not hide that.
	if err := o.basket.Clear(ctx); err != nil {
		log.Error("failed to clear basket after order", zap.Error(err))
	}
	if o.addresses != nil {
		o.addresses.Clear()
	}

	if resp.ApprovalURL != "" {
		log.Info("order placed, awaiting payment approval")
		return Result{
			Flow:        FlowApproval,
			ApprovalURL: resp.ApprovalURL,
			Redirect:    localePath(form.Locale, "payment-approval") + "?url=" + url.QueryEscape(resp.ApprovalURL),
		}, nil
	}

	log.Info("order placed")
	return Result{
		Flow:     FlowConfirmation,
		Redirect: localePath(form.Locale, "order-confirmation"),
	}, nil
}

func (o *Orchestrator) buildOrder(ctx context.Context, form Form) (domain.PurchaseOrder, error) {
	items := o.basket.Items()
	if len(items) == 0 {
		return domain.PurchaseOrder{}, ErrEmptyBasket
	}

	provider := form.Provider
	if provider == "" && o.providers != nil {
		stored, err := o.providers.Provider(ctx)
		if err != nil {
			return domain.PurchaseOrder{}, err
		}
		provider = stored
	}

	order := domain.PurchaseOrder{
		TermsAndConditions: form.TermsAndConditions,
		Provider:           provider,
		Comment:            form.Comment,
		Items:              domain.OrderItems(items, o.basket.CouponCode()),
	}
	if o.addresses != nil {
		order.Billing = o.addresses.View(address.Billing)
		order.Shipping = o.addresses.View(address.Shipping)
	}
	return order, nil
}

func localePath(locale, page string) string {
	if locale == "" {
		return "/" + page
	}
	return "/" + url.PathEscape(locale) + "/" + page
}
