package billing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"stagehand/internal/domain"
)

var testPrices = PriceMap{Basic: "price_b", Standard: "price_s", Pro: "price_p"}

func TestPriceMapRoundTrip(t *testing.T) {
	for _, plan := range []domain.PlanType{domain.PlanBasic, domain.PlanStandard, domain.PlanPro} {
		price, ok := testPrices.Price(plan)
		if !ok {
			t.Fatalf("no price for %s", plan)
		}
		back, ok := testPrices.Plan(price)
		if !ok || back != plan {
			t.Fatalf("%s -> %s -> %s", plan, price, back)
		}
	}
	if _, ok := testPrices.Plan("price_unknown"); ok {
		t.Fatal("unknown price must not resolve")
	}
	if _, ok := testPrices.Plan(""); ok {
		t.Fatal("empty price must not resolve")
	}
}

func TestCreateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["plan_id"] != "standard" || req["user_id"] != "user-1" {
			t.Errorf("unexpected request %v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"url": "https://pay.example/session/abc"})
	}))
	defer srv.Close()

	c := NewCheckoutClient(srv.URL, srv.Client())
	url, err := c.CreateSession(context.Background(), "user-1", domain.PlanStandard)
	if err != nil {
		t.Fatal(err)
	}
	if url != "https://pay.example/session/abc" {
		t.Fatalf("url = %q", url)
	}
}

func TestCreateSessionRejectsTrial(t *testing.T) {
	c := NewCheckoutClient("http://unused.example", nil)
	if _, err := c.CreateSession(context.Background(), "u", domain.PlanTrial); !errors.Is(err, domain.ErrUnsupportedPlan) {
		t.Fatalf("got %v", err)
	}
}

func TestCreateSessionSurfacesRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "customer delinquent"})
	}))
	defer srv.Close()

	c := NewCheckoutClient(srv.URL, srv.Client())
	if _, err := c.CreateSession(context.Background(), "u", domain.PlanBasic); err == nil {
		t.Fatal("expected error")
	}
}

func TestWebhookEventApply(t *testing.T) {
	var ev WebhookEvent
	ev.Type = EventCheckoutCompleted
	ev.Data.Object.Customer = "cus_1"
	ev.Data.Object.PriceID = "price_p"
	ev.Data.Object.CurrentPeriodEnd = 1767225600

	customer, plan, endsAt, err := ev.Apply(testPrices)
	if err != nil {
		t.Fatal(err)
	}
	if customer != "cus_1" || plan != domain.PlanPro {
		t.Fatalf("got %s/%s", customer, plan)
	}
	if endsAt.Year() != 2026 {
		t.Fatalf("endsAt = %v", endsAt)
	}

	ev.Data.Object.PriceID = "price_unknown"
	if _, _, _, err := ev.Apply(testPrices); err == nil {
		t.Fatal("unknown price must be rejected")
	}

	ev.Type = "invoice.paid"
	if _, _, _, err := ev.Apply(testPrices); err == nil {
		t.Fatal("other event types must be rejected")
	}
}
