package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/fjod/go_basket/internal/domain"
	"github.com/fjod/go_basket/pkg/circuitbreaker"
	"github.com/sony/gobreaker/v2"
)

type validationRequest struct {
	Items []domain.LineItem `json:"items"`
}

type validationResponse struct {
	Violations struct {
		Items domain.Violations `json:"items"`
	} `json:"violations"`
}

// ValidationClient checks candidate baskets against the remote validation
// service. It implements basket.Validator.
type ValidationClient struct {
	client
	breaker *gobreaker.CircuitBreaker[domain.ValidationOutcome]
}

func NewValidationClient(opts Options) *ValidationClient {
	c := newClient("validation", opts)
	return &ValidationClient{
		client:  c,
		breaker: circuitbreaker.New[domain.ValidationOutcome](breakerSettings(c.name), c.log),
	}
}

// Validate accepts on 2xx and rejects on a 4xx carrying item violations. Any
// other answer is returned as an error.
func (c *ValidationClient) Validate(ctx context.Context, items []domain.LineItem) (domain.ValidationOutcome, error) {
	return c.breaker.Execute(func() (domain.ValidationOutcome, error) {
		status, body, err := c.do(ctx, http.MethodPost, validatePath, nil, validationRequest{Items: items})
		if err != nil {
			return domain.ValidationOutcome{}, err
		}
		if success(status) {
			return domain.Accept(), nil
		}

		fault := &FaultError{Gateway: c.name, StatusCode: status, Body: body}
		if status < 400 || status >= 500 {
			return domain.ValidationOutcome{}, fault
		}

		var resp validationResponse
		if err := json.Unmarshal(body, &resp); err != nil || len(resp.Violations.Items) == 0 {
			return domain.ValidationOutcome{}, fault
		}
		return domain.Reject(resp.Violations.Items), nil
	})
}
