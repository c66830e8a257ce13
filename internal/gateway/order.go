package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fjod/go_basket/internal/domain"
	"github.com/fjod/go_basket/pkg/circuitbreaker"
	"github.com/sony/gobreaker/v2"
)

// OrderClient prices draft orders and places purchase orders. It implements
// basket.Pricer and checkout.Submitter.
type OrderClient struct {
	client
	echoBreaker   *gobreaker.CircuitBreaker[domain.EchoResponse]
	submitBreaker *gobreaker.CircuitBreaker[domain.SubmitResponse]
}

func NewOrderClient(opts Options) *OrderClient {
	c := newClient("order", opts)
	return &OrderClient{
		client:        c,
		echoBreaker:   circuitbreaker.New[domain.EchoResponse](breakerSettings("order-echo"), c.log),
		submitBreaker: circuitbreaker.New[domain.SubmitResponse](breakerSettings("order-submit"), c.log),
	}
}

func (c *OrderClient) Echo(ctx context.Context, req domain.EchoRequest) (domain.EchoResponse, error) {
	return c.echoBreaker.Execute(func() (domain.EchoResponse, error) {
		status, body, err := c.do(ctx, http.MethodPost, echoPath, nil, req)
		if err != nil {
			return domain.EchoResponse{}, err
		}
		if !success(status) {
			return domain.EchoResponse{}, &FaultError{Gateway: c.name, StatusCode: status, Body: body}
		}

		var resp domain.EchoResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return domain.EchoResponse{}, fmt.Errorf("failed to decode echo response: %w", err)
		}
		return resp, nil
	})
}

// Submit places order. The locale is sent as Accept-Language. Submissions are
// never retried.
func (c *OrderClient) Submit(ctx context.Context, locale string, order domain.PurchaseOrder) (domain.SubmitResponse, error) {
	return c.submitBreaker.Execute(func() (domain.SubmitResponse, error) {
		header := http.Header{}
		if locale != "" {
			header.Set("Accept-Language", locale)
		}

		status, body, err := c.do(ctx, http.MethodPut, submitPath, header, order)
		if err != nil {
			return domain.SubmitResponse{}, err
		}
		if !success(status) {
			return domain.SubmitResponse{}, &FaultError{Gateway: c.name, StatusCode: status, Body: body}
		}

		var resp domain.SubmitResponse
		if len(body) == 0 {
			return resp, nil
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return domain.SubmitResponse{}, fmt.Errorf("failed to decode submit response: %w", err)
		}
		return resp, nil
	})
}
