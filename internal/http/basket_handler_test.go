package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_basket/internal/domain"
	"github.com/fjod/go_basket/internal/gateway"
	"github.com/fjod/go_basket/internal/inventory"
	"github.com/fjod/go_basket/internal/metrics"
	"github.com/fjod/go_basket/internal/registry"
	"github.com/fjod/go_basket/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type submitterMock struct {
	m      sync.Mutex
	resp   domain.SubmitResponse
	err    error
	orders []domain.PurchaseOrder
}

func (s *submitterMock) Submit(_ context.Context, _ string, order domain.PurchaseOrder) (domain.SubmitResponse, error) {
	s.m.Lock()
	defer s.m.Unlock()
	s.orders = append(s.orders, order)
	return s.resp, s.err
}

type testServer struct {
	handler   http.Handler
	stock     *inventory.Store
	submitter *submitterMock
	metrics   *metrics.Metrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	stock := inventory.NewStore(0)
	stock.SetStock("A", 5)
	stock.SetStock("B", 10)

	sub := &submitterMock{}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	sessions := registry.New(registry.Config{
		Store:     store.NewMemoryStore(),
		Validator: stock,
		Submitter: sub,
	})
	h := NewBasketHandler(sessions, 5*time.Second, nil)

	return &testServer{
		handler:   NewRouter(h, RouterConfig{RequestTimeout: 5 * time.Second, Metrics: m, Gatherer: reg}),
		stock:     stock,
		submitter: sub,
		metrics:   m,
	}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

const basePath = "/api/v1/baskets/42"

func TestGetBasket_Empty(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, basePath+"/", "")
	require.Equal(t, http.StatusOK, rec.Code)

	view := decodeBody[domain.View](t, rec)
	assert.Empty(t, view.Items)
	assert.Equal(t, int64(0), view.SubTotal)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestAddItem_Accepted(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, basePath+"/items", `{"id":"A","price":100,"quantity":2}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decodeBody[MutationResponse](t, rec)
	assert.Equal(t, "accepted", resp.Status)
	assert.Equal(t, int64(200), resp.View.SubTotal)

	rec = s.do(t, http.MethodGet, basePath+"/", "")
	assert.Len(t, decodeBody[domain.View](t, rec).Items, 1)
}

func TestAddItem_StringQuantity(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, basePath+"/items", `{"id":"A","price":100,"quantity":"3"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, int64(300), decodeBody[MutationResponse](t, rec).View.SubTotal)
}

func TestAddItem_NonNumericQuantityIgnored(t *testing.T) {
	s := newTestServer(t)

	for _, q := range []string{`"lots"`, `0`, `-2`, `1.5`, `null`, `{}`} {
		rec := s.do(t, http.MethodPost, basePath+"/items", `{"id":"A","price":100,"quantity":`+q+`}`)
		require.Equal(t, http.StatusOK, rec.Code, q)
		assert.Equal(t, "ignored", decodeBody[MutationResponse](t, rec).Status, q)
	}
}

func TestAddItem_Rejected(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, basePath+"/items", `{"id":"A","price":100,"quantity":6}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	resp := decodeBody[RejectionResponse](t, rec)
	assert.Equal(t, "rejected", resp.Code)
	assert.Equal(t, float64(5), resp.Violations["quantity"]["upperbound"]["boundary"])

	rec = s.do(t, http.MethodGet, basePath+"/", "")
	assert.Empty(t, decodeBody[domain.View](t, rec).Items)
}

func TestAddItem_InvalidJSON(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, basePath+"/items", `invalid json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeBody[ErrorResponse](t, rec).Code)
}

func TestAddItem_MissingID(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, basePath+"/items", `{"price":100,"quantity":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, decodeBody[ErrorResponse](t, rec).Details)
}

func TestUpdateQuantity(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, basePath+"/items", `{"id":"A","price":100,"quantity":1}`).Code)

	rec := s.do(t, http.MethodPut, basePath+"/items/A", `{"quantity":4}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(400), decodeBody[MutationResponse](t, rec).View.SubTotal)

	rec = s.do(t, http.MethodPut, basePath+"/items/A", `{"quantity":9}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, http.MethodGet, basePath+"/", "")
	assert.Equal(t, 4, decodeBody[domain.View](t, rec).Items[0].Quantity)
}

func TestRemoveAndClear(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, basePath+"/items", `{"id":"A","price":100,"quantity":1}`).Code)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, basePath+"/items", `{"id":"B","price":10,"quantity":1}`).Code)

	rec := s.do(t, http.MethodDelete, basePath+"/items/A", "")
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeBody[domain.View](t, rec)
	require.Len(t, view.Items, 1)
	assert.Equal(t, "B", view.Items[0].ID)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPut, basePath+"/coupon", `{"code":"SPRING"}`).Code)

	rec = s.do(t, http.MethodDelete, basePath+"/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	view = decodeBody[domain.View](t, rec)
	assert.Empty(t, view.Items)
	assert.Empty(t, view.CouponCode)
}

func TestSetCoupon(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPut, basePath+"/coupon", `{"code":"SPRING"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SPRING", decodeBody[domain.View](t, rec).CouponCode)

	rec = s.do(t, http.MethodPut, basePath+"/coupon", `{"code":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRenderBasket_WithoutPricer(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, basePath+"/items", `{"id":"A","price":100,"quantity":2}`).Code)

	rec := s.do(t, http.MethodGet, basePath+"/render", "")
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeBody[domain.View](t, rec)
	assert.False(t, view.Authoritative)
	assert.Equal(t, int64(200), view.SubTotal)
}

func TestSetAddress_UnknownKind(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPut, basePath+"/addresses/moon", `{"label":"x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckout(t *testing.T) {
	s := newTestServer(t)
	s.submitter.resp = domain.SubmitResponse{ApprovalURL: "https://pay.example/a"}

	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, basePath+"/items", `{"id":"A","price":100,"quantity":2}`).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPut, basePath+"/addresses/billing", `{"label":"home","addressee":"Jo"}`).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPut, basePath+"/provider", `{"provider":"stripe"}`).Code)

	rec := s.do(t, http.MethodPost, basePath+"/checkout", `{"locale":"en","termsAndConditions":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		Flow        string `json:"flow"`
		ApprovalURL string `json:"approvalUrl"`
		Redirect    string `json:"redirect"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, "approval", res.Flow)
	assert.Equal(t, "/en/payment-approval?url=https%3A%2F%2Fpay.example%2Fa", res.Redirect)

	require.Len(t, s.submitter.orders, 1)
	order := s.submitter.orders[0]
	assert.Equal(t, "stripe", order.Provider)
	assert.Equal(t, "home", order.Billing.Label)
	assert.True(t, order.TermsAndConditions)

	rec = s.do(t, http.MethodGet, basePath+"/", "")
	assert.Empty(t, decodeBody[domain.View](t, rec).Items)
}

func TestCheckout_EmptyBasket(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, basePath+"/checkout", `{}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "empty_basket", decodeBody[ErrorResponse](t, rec).Code)
}

func TestCheckout_GatewayFault(t *testing.T) {
	s := newTestServer(t)
	s.submitter.err = &gateway.FaultError{Gateway: "order", StatusCode: http.StatusConflict, Body: []byte(`out of stock`)}
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, basePath+"/items", `{"id":"A","price":100,"quantity":2}`).Code)

	rec := s.do(t, http.MethodPost, basePath+"/checkout", `{}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "gateway_fault", resp.Code)
	assert.Equal(t, "order gateway refused the request", resp.Error)
	assert.Equal(t, "out of stock", resp.Details)

	rec = s.do(t, http.MethodGet, basePath+"/", "")
	assert.Len(t, decodeBody[domain.View](t, rec).Items, 1)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	s.do(t, http.MethodGet, basePath+"/", "")
	assert.GreaterOrEqual(t, testutil.CollectAndCount(s.metrics.Requests), 1)

	rec = s.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "basket_http_requests_total")
}

func TestQuantity_UnmarshalJSON(t *testing.T) {
	cases := map[string]Quantity{
		`3`:      3,
		`"7"`:    7,
		`" 2 "`:  2,
		`"abc"`:  0,
		`2.5`:    0,
		`true`:   0,
		`null`:   0,
		`[1]`:    0,
		`-4`:     -4,
		`"-1"`:   -1,
		`1e3`:    1000,
		`"1.0"`:  0,
		`"0x10"`: 0,
	}
	for raw, want := range cases {
		var q Quantity
		require.NoError(t, json.Unmarshal([]byte(raw), &q), raw)
		assert.Equal(t, want, q, raw)
	}
}
