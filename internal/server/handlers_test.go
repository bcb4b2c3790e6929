package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/friends4payments/dory-x402-gemini/internal/assets"
	"github.com/friends4payments/dory-x402-gemini/internal/facilitator"
	"github.com/friends4payments/dory-x402-gemini/internal/metrics"
	"github.com/friends4payments/dory-x402-gemini/internal/pricing"
	"github.com/friends4payments/dory-x402-gemini/internal/verifier"
	"github.com/friends4payments/dory-x402-gemini/internal/voucher"
	"github.com/friends4payments/dory-x402-gemini/internal/x402"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// Collectors register against the global prometheus registry; one shared
// instance keeps repeated test setup from double-registering.
var testMetrics = metrics.NewCollector("paywall_test")

const (
	testPayTo   = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
	testNetwork = x402.NetworkSolanaDevnet
	usdcMint    = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
)

// mockFacilitator is an httptest facilitator that approves every payment
// and records the amounts it was asked to verify.
type mockFacilitator struct {
	*httptest.Server

	mu              sync.Mutex
	verifiedAmounts []string
	rejectReason    string
}

func newMockFacilitator(t *testing.T) *mockFacilitator {
	t.Helper()
	m := &mockFacilitator{}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/verify":
			var req facilitator.VerifyRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("Failed to decode verify request: %v", err)
			}
			m.mu.Lock()
			m.verifiedAmounts = append(m.verifiedAmounts, req.PaymentRequirements.Amount)
			reject := m.rejectReason
			m.mu.Unlock()

			if reject != "" {
				_ = json.NewEncoder(w).Encode(x402.VerifyResponse{IsValid: false, InvalidReason: reject})
				return
			}
			_ = json.NewEncoder(w).Encode(x402.VerifyResponse{IsValid: true, Payer: "payer123"})

		case "/settle":
			_ = json.NewEncoder(w).Encode(x402.SettleResponse{
				Success:     true,
				Transaction: "5tx",
				Network:     testNetwork,
				Payer:       "payer123",
			})

		default:
			t.Errorf("Unexpected facilitator call: %s %s", r.Method, r.URL.Path)
		}
	}))
	t.Cleanup(m.Server.Close)
	return m
}

func (m *mockFacilitator) reject(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectReason = reason
}

func (m *mockFacilitator) verifyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.verifiedAmounts)
}

func newTestServer(t *testing.T, facilitatorURL string) (*gin.Engine, *voucher.MemoryStore) {
	t.Helper()

	registry, err := assets.NewRegistry([]assets.AssetInfo{
		{Symbol: "USDC", Address: usdcMint, Decimals: 6},
	})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	flatPrice, err := pricing.ParseFlatPrice("$0.01")
	if err != nil {
		t.Fatalf("ParseFlatPrice failed: %v", err)
	}

	resolver := pricing.NewResolver(registry, testPayTo, testNetwork, 60)
	gate := verifier.New(facilitator.NewClient(facilitatorURL), x402.ResourceInfo{}, false, zap.NewNop())
	store := voucher.NewMemoryStore()

	srv := New(resolver, gate, store, flatPrice, testMetrics, zap.NewNop())
	return srv.Router(), store
}

// paymentHeader builds an X-PAYMENT header accepting the given requirement
// shape. The mock facilitator approves it regardless of contents.
func paymentHeader(t *testing.T) string {
	t.Helper()
	encoded, err := x402.EncodePayment(x402.PaymentPayload{
		X402Version: x402.Version,
		Accepted: x402.PaymentRequirements{
			Scheme:  pricing.Scheme,
			Network: testNetwork,
		},
		Payload: map[string]interface{}{"transaction": "base64tx"},
	})
	if err != nil {
		t.Fatalf("EncodePayment failed: %v", err)
	}
	return encoded
}

func TestRoot(t *testing.T) {
	router, _ := newTestServer(t, newMockFacilitator(t).URL)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Dory X402 API") {
		t.Errorf("Unexpected banner: %s", w.Body.String())
	}
}

func TestPay_NoPayment_ChallengeAndNoVoucher(t *testing.T) {
	fac := newMockFacilitator(t)
	router, store := newTestServer(t, fac.URL)

	req := httptest.NewRequest("POST", "/pay", strings.NewReader(`{"item": "mystic blade"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("Expected status 402, got %d", w.Code)
	}

	var challenge x402.PaymentRequired
	if err := json.NewDecoder(w.Body).Decode(&challenge); err != nil {
		t.Fatalf("Failed to decode challenge: %v", err)
	}
	if len(challenge.Accepts) != 1 {
		t.Fatalf("Expected 1 requirement, got %d", len(challenge.Accepts))
	}
	// $0.01 in the 6-decimal default asset
	if challenge.Accepts[0].Amount != "10000" {
		t.Errorf("Expected amount 10000, got %s", challenge.Accepts[0].Amount)
	}
	if challenge.Accepts[0].PayTo != testPayTo {
		t.Errorf("Expected payTo %s, got %s", testPayTo, challenge.Accepts[0].PayTo)
	}

	if store.Len() != 0 {
		t.Errorf("Expected no vouchers, got %d", store.Len())
	}
	if fac.verifyCount() != 0 {
		t.Errorf("Facilitator should not be called without payment, got %d calls", fac.verifyCount())
	}
}

func TestPay_RoundTrip(t *testing.T) {
	fac := newMockFacilitator(t)
	router, _ := newTestServer(t, fac.URL)

	orderBody := `{"item": "mystic blade", "quantity": 1}`
	req := httptest.NewRequest("POST", "/pay", strings.NewReader(orderBody))
	req.Header.Set(x402.PaymentHeader, paymentHeader(t))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get(x402.PaymentResponseHeader) == "" {
		t.Error("Expected settlement confirmation header")
	}

	var payResp struct {
		Payment string `json:"payment"`
	}
	if err := json.NewDecoder(w.Body).Decode(&payResp); err != nil {
		t.Fatalf("Failed to decode pay response: %v", err)
	}
	if payResp.Payment == "" {
		t.Fatal("Expected a voucher token")
	}

	// First redemption returns the order verbatim
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/redeem/"+payResp.Payment, nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200 on redeem, got %d", w.Code)
	}
	var redeemResp struct {
		Order json.RawMessage `json:"order"`
	}
	if err := json.NewDecoder(w.Body).Decode(&redeemResp); err != nil {
		t.Fatalf("Failed to decode redeem response: %v", err)
	}
	var got, want map[string]interface{}
	_ = json.Unmarshal(redeemResp.Order, &got)
	_ = json.Unmarshal([]byte(orderBody), &want)
	if got["item"] != want["item"] || got["quantity"] != want["quantity"] {
		t.Errorf("Order mismatch: got %s", redeemResp.Order)
	}

	// Second redemption observes NotFound
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/redeem/"+payResp.Payment, nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 on second redeem, got %d", w.Code)
	}
}

func TestPay_MalformedBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"array", `[1, 2, 3]`},
		{"null literal", `null`},
		{"bare string", `"order"`},
		{"truncated", `{"item": `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fac := newMockFacilitator(t)
			router, store := newTestServer(t, fac.URL)

			req := httptest.NewRequest("POST", "/pay", strings.NewReader(tt.body))
			req.Header.Set(x402.PaymentHeader, paymentHeader(t))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("Expected status 400, got %d", w.Code)
			}
			if store.Len() != 0 {
				t.Errorf("Expected no vouchers, got %d", store.Len())
			}
			if fac.verifyCount() != 0 {
				t.Errorf("Facilitator should not be called for a malformed body, got %d calls", fac.verifyCount())
			}
		})
	}
}

func TestPay_VerificationFailed_NoVoucher(t *testing.T) {
	fac := newMockFacilitator(t)
	fac.reject("insufficient_funds")
	router, store := newTestServer(t, fac.URL)

	req := httptest.NewRequest("POST", "/pay", strings.NewReader(`{"item": "mystic blade"}`))
	req.Header.Set(x402.PaymentHeader, paymentHeader(t))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("Expected status 402, got %d", w.Code)
	}
	if store.Len() != 0 {
		t.Errorf("Expected no vouchers after failed verification, got %d", store.Len())
	}
}

func TestDynamicPay_RoundTrip(t *testing.T) {
	fac := newMockFacilitator(t)
	router, _ := newTestServer(t, fac.URL)

	orderBody := `{"price": 61.234567, "asset": "USDC", "payload": {"item": "pepperoni pizza"}}`
	req := httptest.NewRequest("POST", "/dynamic-pay", strings.NewReader(orderBody))
	req.Header.Set(x402.PaymentHeader, paymentHeader(t))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	// The quoted amount is rounded to 2 decimal places before conversion
	fac.mu.Lock()
	amounts := append([]string(nil), fac.verifiedAmounts...)
	fac.mu.Unlock()
	if len(amounts) != 1 || amounts[0] != "61230000" {
		t.Errorf("Expected verified amount [61230000], got %v", amounts)
	}

	var payResp struct {
		Payment string `json:"payment"`
	}
	if err := json.NewDecoder(w.Body).Decode(&payResp); err != nil {
		t.Fatalf("Failed to decode pay response: %v", err)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/redeem/"+payResp.Payment, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200 on redeem, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "pepperoni pizza") {
		t.Errorf("Expected original payload in redeem response, got %s", w.Body.String())
	}
}

func TestDynamicPay_UnsupportedAsset(t *testing.T) {
	fac := newMockFacilitator(t)
	router, store := newTestServer(t, fac.URL)

	req := httptest.NewRequest("POST", "/dynamic-pay", strings.NewReader(`{"price": 5, "asset": "XYZ"}`))
	req.Header.Set(x402.PaymentHeader, paymentHeader(t))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", w.Code)
	}
	if store.Len() != 0 {
		t.Errorf("Expected no vouchers, got %d", store.Len())
	}
	if fac.verifyCount() != 0 {
		t.Errorf("Facilitator should not be called for an unsupported asset, got %d calls", fac.verifyCount())
	}
}

func TestDynamicPay_MissingPrice(t *testing.T) {
	router, store := newTestServer(t, newMockFacilitator(t).URL)

	req := httptest.NewRequest("POST", "/dynamic-pay", strings.NewReader(`{"payload": {"item": "pizza"}}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", w.Code)
	}
	if store.Len() != 0 {
		t.Errorf("Expected no vouchers, got %d", store.Len())
	}
}

func TestDynamicPay_NoPayment(t *testing.T) {
	router, store := newTestServer(t, newMockFacilitator(t).URL)

	req := httptest.NewRequest("POST", "/dynamic-pay", strings.NewReader(`{"price": 2.50, "asset": "USDC"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("Expected status 402, got %d", w.Code)
	}

	var challenge x402.PaymentRequired
	if err := json.NewDecoder(w.Body).Decode(&challenge); err != nil {
		t.Fatalf("Failed to decode challenge: %v", err)
	}
	if len(challenge.Accepts) != 1 || challenge.Accepts[0].Amount != "2500000" {
		t.Errorf("Expected quoted amount 2500000, got %+v", challenge.Accepts)
	}
	if store.Len() != 0 {
		t.Errorf("Expected no vouchers, got %d", store.Len())
	}
}

func TestRedeem_UnknownToken(t *testing.T) {
	router, _ := newTestServer(t, newMockFacilitator(t).URL)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/redeem/not-a-real-token", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected status 404, got %d", w.Code)
	}
	var errResp struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	if errResp.Error != "Invalid payment" {
		t.Errorf("Expected error 'Invalid payment', got %q", errResp.Error)
	}
}

func TestRedeem_ConcurrentSingleWinner(t *testing.T) {
	fac := newMockFacilitator(t)
	router, _ := newTestServer(t, fac.URL)

	req := httptest.NewRequest("POST", "/pay", strings.NewReader(`{"item": "crown of wisdom"}`))
	req.Header.Set(x402.PaymentHeader, paymentHeader(t))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var payResp struct {
		Payment string `json:"payment"`
	}
	if err := json.NewDecoder(w.Body).Decode(&payResp); err != nil {
		t.Fatalf("Failed to decode pay response: %v", err)
	}

	const callers = 8
	statuses := make(chan int, callers)
	var start, done sync.WaitGroup
	start.Add(1)
	for i := 0; i < callers; i++ {
		done.Add(1)
		go func() {
			defer done.Done()
			start.Wait()
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest("GET", "/redeem/"+payResp.Payment, nil))
			statuses <- rec.Code
		}()
	}
	start.Done()
	done.Wait()
	close(statuses)

	var ok, notFound int
	for status := range statuses {
		switch status {
		case http.StatusOK:
			ok++
		case http.StatusNotFound:
			notFound++
		default:
			t.Errorf("Unexpected status %d", status)
		}
	}
	if ok != 1 {
		t.Errorf("Expected exactly 1 successful redemption, got %d", ok)
	}
	if notFound != callers-1 {
		t.Errorf("Expected %d not-found redemptions, got %d", callers-1, notFound)
	}
}
