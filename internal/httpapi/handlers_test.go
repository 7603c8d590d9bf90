package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"rangemark.org/internal/auth"
	"rangemark.org/internal/compliance"
	"rangemark.org/internal/gateway"
	"rangemark.org/internal/order"
)

type stubGateway struct {
	mu           sync.Mutex
	authorizeErr error
	seq          int
}

func (g *stubGateway) Authorize(ctx context.Context, req gateway.AuthorizeRequest) (gateway.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.authorizeErr != nil {
		return gateway.Result{}, g.authorizeErr
	}
	g.seq++
	return gateway.Result{TransactionID: "auth-" + req.IdempotencyKey}, nil
}

func (g *stubGateway) Capture(ctx context.Context, authID string) (gateway.Result, error) {
	return gateway.Result{TransactionID: "cap-" + authID}, nil
}

func (g *stubGateway) Void(ctx context.Context, authID string) error { return nil }

type stubDirectory struct{}

func (stubDirectory) Lookup(ctx context.Context, license string) (order.Dealer, error) {
	switch license {
	case "1-23-456":
		return order.Dealer{LicenseNumber: license, BusinessName: "High Desert Arms", Active: true}, nil
	case "9-99-000":
		return order.Dealer{LicenseNumber: license, BusinessName: "Lapsed Outfitters", Active: false}, nil
	}
	return order.Dealer{}, errors.New("license not found")
}

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
	store   *order.InMemory
	gateway *stubGateway
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	t.Setenv("RANGEMARK_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()

	cfg, err := compliance.NewConfigStore(compliance.Settings{
		WindowDays:              30,
		FirearmLimit:            5,
		MultiFirearmHoldEnabled: true,
		FFLHoldEnabled:          true,
	})
	if err != nil {
		t.Fatalf("config store: %v", err)
	}

	store := order.NewInMemory()
	gw := &stubGateway{}
	machine := order.NewMachine(store, gw, nil)
	checkout := &order.Service{
		Evaluator: &compliance.Evaluator{Config: cfg, History: store},
		Machine:   machine,
		Store:     store,
		Directory: stubDirectory{},
	}
	staff := &order.StaffActionService{Machine: machine, Store: store, Directory: stubDirectory{}}

	api := New(ReadyProbe{}, "test", checkout, staff, cfg)
	api.rateBurst = 1000
	api.ratePerSec = 1000

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		store:   store,
		gateway: gw,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, headers map[string]string) *http.Response {
	return c.do(http.MethodGet, path, nil, headers)
}

func (c *apiClient) obtainToken(user string, roles []string) string {
	c.t.Helper()
	resp := c.post("/v1/auth/token", map[string]any{"user": user, "roles": roles}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected token status: %d", resp.StatusCode)
	}
	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.t.Fatalf("decode token: %v", err)
	}
	return payload.Token
}

func (c *apiClient) staffHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.obtainToken("staff-1", []string{"staff"})}
}

func (c *apiClient) adminHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.obtainToken("admin-1", []string{"admin"})}
}

func decodeOrderResponse(t *testing.T, resp *http.Response) orderResponse {
	t.Helper()
	defer resp.Body.Close()
	var out orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode order response: %v", err)
	}
	return out
}

func checkoutBody(lines []order.Line) map[string]any {
	return map[string]any{
		"customer_id": "cust-1",
		"lines":       lines,
		"payment":     map[string]any{"token": "tok_visa"},
	}
}

func firearmLines(qty int) []order.Line {
	return []order.Line{{SKU: "RIFLE-10", Quantity: qty, UnitPriceCents: 64999, IsFirearm: true}}
}

func TestHealthEndpoints(t *testing.T) {
	c := newTestAPI(t)

	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp := c.get(path, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s -> %d", path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestCheckoutAccessoriesPaid(t *testing.T) {
	c := newTestAPI(t)

	resp := c.post("/v1/checkout", checkoutBody([]order.Line{{SKU: "CASE-1", Quantity: 1, UnitPriceCents: 4999}}), nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc == "" {
		t.Fatal("missing Location header")
	}
	out := decodeOrderResponse(t, resp)
	if out.Order.Status != order.StatusPaid {
		t.Fatalf("order status = %s, want paid", out.Order.Status)
	}
}

func TestCheckoutFirearmHoldAndLookup(t *testing.T) {
	c := newTestAPI(t)

	resp := c.post("/v1/checkout", checkoutBody(firearmLines(1)), nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	out := decodeOrderResponse(t, resp)
	if out.Order.Status != order.StatusHoldFFL {
		t.Fatalf("order status = %s, want hold_ffl", out.Order.Status)
	}

	// Order lookup is public and includes the payment trail.
	lookup := c.get("/v1/orders/"+out.Order.ID, nil)
	if lookup.StatusCode != http.StatusOK {
		t.Fatalf("lookup status = %d", lookup.StatusCode)
	}
	got := decodeOrderResponse(t, lookup)
	if len(got.Transactions) != 1 || got.Transactions[0].Kind != order.TxAuthorize {
		t.Fatalf("unexpected trail: %+v", got.Transactions)
	}
}

func TestCheckoutValidationAndDecline(t *testing.T) {
	c := newTestAPI(t)

	resp := c.post("/v1/checkout", map[string]any{"customer_id": "cust-1"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty cart status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	c.gateway.authorizeErr = gateway.ErrDeclined
	resp = c.post("/v1/checkout", checkoutBody(firearmLines(1)), nil)
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("declined status = %d, want 402", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestStaffEndpointsRequireRole(t *testing.T) {
	c := newTestAPI(t)

	resp := c.post("/v1/checkout", checkoutBody(firearmLines(1)), nil)
	out := decodeOrderResponse(t, resp)

	// No token.
	r2 := c.post("/v1/orders/"+out.Order.ID+"/verify-ffl", nil, nil)
	if r2.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous staff action -> %d, want 401", r2.StatusCode)
	}
	r2.Body.Close()

	// Token without a staff role.
	tok := c.obtainToken("shopper", []string{"customer"})
	r3 := c.post("/v1/orders/"+out.Order.ID+"/verify-ffl", nil, map[string]string{"Authorization": "Bearer " + tok})
	if r3.StatusCode != http.StatusForbidden {
		t.Fatalf("customer role -> %d, want 403", r3.StatusCode)
	}
	r3.Body.Close()
}

func TestStaffAttachVerifyFlow(t *testing.T) {
	c := newTestAPI(t)
	headers := c.staffHeaders()

	resp := c.post("/v1/checkout", checkoutBody(firearmLines(1)), nil)
	out := decodeOrderResponse(t, resp)
	id := out.Order.ID

	attach := c.post("/v1/orders/"+id+"/attach-ffl", map[string]any{"license_number": "1-23-456"}, headers)
	if attach.StatusCode != http.StatusOK {
		t.Fatalf("attach status = %d", attach.StatusCode)
	}
	attach.Body.Close()

	// Verify without a hold precondition issue clears and captures.
	verify := c.post("/v1/orders/"+id+"/verify-ffl", nil, headers)
	if verify.StatusCode != http.StatusOK {
		t.Fatalf("verify status = %d", verify.StatusCode)
	}
	got := decodeOrderResponse(t, verify)
	if got.Order.Status != order.StatusPaid {
		t.Fatalf("status = %s, want paid", got.Order.Status)
	}
}

func TestStaffAttachInactiveLicense(t *testing.T) {
	c := newTestAPI(t)
	headers := c.staffHeaders()

	resp := c.post("/v1/checkout", checkoutBody(firearmLines(1)), nil)
	out := decodeOrderResponse(t, resp)

	attach := c.post("/v1/orders/"+out.Order.ID+"/attach-ffl", map[string]any{"license_number": "9-99-000"}, headers)
	if attach.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("inactive license -> %d, want 422", attach.StatusCode)
	}
	attach.Body.Close()

	blank := c.post("/v1/orders/"+out.Order.ID+"/attach-ffl", map[string]any{"license_number": "  "}, headers)
	if blank.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank license -> %d, want 400", blank.StatusCode)
	}
	blank.Body.Close()
}

func TestStaffForceVoid(t *testing.T) {
	c := newTestAPI(t)
	headers := c.staffHeaders()

	resp := c.post("/v1/checkout", checkoutBody(firearmLines(1)), nil)
	out := decodeOrderResponse(t, resp)

	void := c.post("/v1/orders/"+out.Order.ID+"/void", map[string]any{"reason": "customer request"}, headers)
	if void.StatusCode != http.StatusOK {
		t.Fatalf("void status = %d", void.StatusCode)
	}
	got := decodeOrderResponse(t, void)
	if got.Order.Status != order.StatusVoided {
		t.Fatalf("status = %s, want voided", got.Order.Status)
	}
}

func TestComplianceConfigEndpoints(t *testing.T) {
	c := newTestAPI(t)

	// Staff may read but not write.
	staff := c.staffHeaders()
	read := c.get("/v1/compliance/config", staff)
	if read.StatusCode != http.StatusOK {
		t.Fatalf("read status = %d", read.StatusCode)
	}
	var cfg complianceConfigResponse
	if err := json.NewDecoder(read.Body).Decode(&cfg); err != nil {
		t.Fatalf("decode config: %v", err)
	}
	read.Body.Close()
	if cfg.FirearmLimit != 5 || cfg.Version != 1 {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	write := c.do(http.MethodPut, "/v1/compliance/config", map[string]any{"firearm_limit": 3}, staff)
	if write.StatusCode != http.StatusForbidden {
		t.Fatalf("staff write -> %d, want 403", write.StatusCode)
	}
	write.Body.Close()

	// Admin writes; version bumps.
	admin := c.adminHeaders()
	write = c.do(http.MethodPut, "/v1/compliance/config", map[string]any{"firearm_limit": 3}, admin)
	if write.StatusCode != http.StatusOK {
		t.Fatalf("admin write -> %d", write.StatusCode)
	}
	if err := json.NewDecoder(write.Body).Decode(&cfg); err != nil {
		t.Fatalf("decode config: %v", err)
	}
	write.Body.Close()
	if cfg.FirearmLimit != 3 || cfg.Version != 2 {
		t.Fatalf("unexpected updated config: %+v", cfg)
	}

	// Invalid values are rejected without a version bump.
	write = c.do(http.MethodPut, "/v1/compliance/config", map[string]any{"window_days": -1}, admin)
	if write.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid write -> %d, want 400", write.StatusCode)
	}
	write.Body.Close()
}

func TestUnknownOrderIs404(t *testing.T) {
	c := newTestAPI(t)
	resp := c.get("/v1/orders/ord_missing", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}
