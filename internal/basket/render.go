package basket

import (
	"context"
	"fmt"

	"github.com/fjod/go_basket/internal/domain"
	"github.com/fjod/go_basket/internal/notify"
	"go.uber.org/zap"
)

// Presenter receives basket views. Render calls it up to twice.
type Presenter func(domain.View)

// renderAttempts bounds how often Render re-prices when the basket keeps
// changing underneath the pricing round-trip.
const renderAttempts = 3

// Render presents the local snapshot immediately, then asks the pricer for the
// authoritative order, replaces the local items with the priced ones, persists
// them and presents again. A pricing failure leaves the basket untouched.
//
// Priced items only replace the snapshot they were computed from. When another
// mutation persisted during the round-trip the basket is priced again, and
// after renderAttempts the priced result is dropped.
//
// Render blocks for the pricing round-trip; run it in a goroutine when only
// the first phase should block.
func (e *Engine) Render(ctx context.Context, present Presenter) error {
	local, at := e.snapshot()
	present(local)

	if e.pricer == nil {
		return nil
	}

	for attempt := 1; ; attempt++ {
		resp, err := e.pricer.Echo(ctx, domain.EchoRequest{
			Namespace: e.namespace,
			Items:     domain.OrderItems(local.Items, local.CouponCode),
		})
		if err != nil {
			e.log.Warn("render pricing failed", zap.Error(err))
			e.metrics.Operation("render", "error")
			return fmt.Errorf("failed to price basket: %w", err)
		}

		priced := resp.LineItems()

		e.mu.Lock()
		if e.persisted != at {
			e.mu.Unlock()
			if attempt == renderAttempts {
				e.log.Info("render dropped, basket kept changing", zap.Int("attempts", attempt))
				e.metrics.Operation("render", "stale")
				return nil
			}
			local, at = e.snapshot()
			continue
		}
		previous := e.basket.Items
		e.basket.Items = priced
		err = e.persistLocked(ctx)
		if err != nil {
			e.basket.Items = previous
		}
		coupon := e.basket.Coupon
		e.mu.Unlock()
		if err != nil {
			e.metrics.Operation("render", "error")
			return err
		}

		if resp.CouponCode != "" {
			coupon = resp.CouponCode
		}
		items := make([]domain.LineItem, len(priced))
		copy(items, priced)
		present(domain.View{
			CouponCode:        coupon,
			Items:             items,
			SubTotal:          resp.Total(),
			AdditionalCharges: resp.AdditionalCharges,
			ItemTotal:         resp.ItemTotal,
			Authoritative:     true,
		})

		e.metrics.Operation("render", StatusAccepted.String())
		e.bus.Fire(notify.TopicBasketRendered, e.key)
		return nil
	}
}

// snapshot returns the local view together with the persist counter it was
// taken at.
func (e *Engine) snapshot() (domain.View, uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewLocked(), e.persisted
}
