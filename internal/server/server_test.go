package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/scbrown/genfeedback/internal/bridge"
	"github.com/scbrown/genfeedback/internal/loop"
	"github.com/scbrown/genfeedback/internal/metrics"
	"github.com/scbrown/genfeedback/internal/model"
	"github.com/scbrown/genfeedback/internal/store"
)

func testServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	reg := prometheus.NewRegistry()
	l, err := loop.New(loop.Options{Store: s, Metrics: metrics.New(reg)})
	if err != nil {
		t.Fatalf("new loop: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	srv := New(l, WithGatherer(reg))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func postJSON(t *testing.T, u string, v any) *http.Response {
	t.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(u, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", u, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func cartViolation() model.Violation {
	return model.Violation{
		Endpoint:      "POST /carts/{id}/items",
		ViolationType: "server_error",
		Detail:        "null value in column 'category_id'",
		Exception:     "IntegrityError",
	}
}

func TestHealth(t *testing.T) {
	_, ts := testServer(t)
	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestCycle(t *testing.T) {
	_, ts := testServer(t)
	ev := model.FailureEvent{
		GenContext:     model.GenContext{Method: "POST", Endpoint: "/carts/7/items"},
		ExceptionClass: "IntegrityError",
		ErrorMessage:   "null value in column 'category_id'",
		StatusCode:     500,
	}
	resp := postJSON(t, ts.URL+"/api/v1/cycle", CycleRequest{Events: []model.FailureEvent{ev, ev, {}}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var stats model.SessionStats
	decodeBody(t, resp, &stats)
	if stats.Total != 3 || stats.Created != 1 || stats.Existing != 1 || stats.Failed != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestBridgeCreatedThenExisting(t *testing.T) {
	_, ts := testServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/bridge", cartViolation())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first status = %d, want 201", resp.StatusCode)
	}
	var first bridge.Result
	decodeBody(t, resp, &first)

	resp = postJSON(t, ts.URL+"/api/v1/bridge", cartViolation())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second status = %d, want 200", resp.StatusCode)
	}
	var second bridge.Result
	decodeBody(t, resp, &second)
	if second.Created || second.Occurrences != 2 || second.PatternID != first.PatternID {
		t.Errorf("second = %+v, first = %+v", second, first)
	}
}

func TestBridgeRejectsInvalidViolation(t *testing.T) {
	_, ts := testServer(t)
	resp := postJSON(t, ts.URL+"/api/v1/bridge", model.Violation{Endpoint: "/x"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}

	resp, err := http.Post(ts.URL+"/api/v1/bridge", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d, want 400", resp.StatusCode)
	}
}

func TestBridgeBatch(t *testing.T) {
	_, ts := testServer(t)
	resp := postJSON(t, ts.URL+"/api/v1/bridge/batch", []model.Violation{
		cartViolation(),
		{Endpoint: "/broken"},
		cartViolation(),
	})
	var res model.BatchResult
	decodeBody(t, resp, &res)
	if res.Bridged != 2 || res.NewPatterns != 1 || res.ExistingPatterns != 1 || res.Failed != 1 {
		t.Errorf("batch = %+v", res)
	}
	if len(res.Errors) != 1 {
		t.Errorf("errors = %v", res.Errors)
	}
}

func TestIngest(t *testing.T) {
	_, ts := testServer(t)

	body := `{"endpoint": "GET /orders/5", "type": "not_found", "message": "Order 5 not found"}`
	resp, err := http.Post(ts.URL+"/api/v1/ingest?source=diagnostic", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	var res model.BatchResult
	decodeBody(t, resp, &res)
	if res.Bridged != 1 || res.NewPatterns != 1 {
		t.Errorf("ingest = %+v", res)
	}

	resp, err = http.Post(ts.URL+"/api/v1/ingest?source=nope", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown source status = %d, want 400", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/api/v1/ingest", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing source status = %d, want 400", resp.StatusCode)
	}
}

func TestAdviceAndPrompt(t *testing.T) {
	_, ts := testServer(t)
	postJSON(t, ts.URL+"/api/v1/bridge", cartViolation()).Body.Close()

	resp, err := http.Get(ts.URL + "/api/v1/advice?entity=Cart&min_occurrences=1")
	if err != nil {
		t.Fatal(err)
	}
	var adv model.Advice
	decodeBody(t, resp, &adv)
	if len(adv.Avoid) == 0 || !strings.Contains(adv.Avoid[0], "category_id") {
		t.Errorf("avoid = %v", adv.Avoid)
	}

	q := url.Values{"entity": {"Order"}, "endpoint": {"/orders/{id}"}, "method": {"delete"}}
	resp, err = http.Get(ts.URL + "/api/v1/prompt?" + q.Encode())
	if err != nil {
		t.Fatal(err)
	}
	var pr PromptResponse
	decodeBody(t, resp, &pr)
	if !strings.Contains(pr.Prompt, "USE:\n  1. Load the Order by id") {
		t.Errorf("prompt = %q", pr.Prompt)
	}
}

func TestAdviceRequiresTarget(t *testing.T) {
	_, ts := testServer(t)
	for _, q := range []string{"", "?entity=Cart&min_occurrences=x", "?entity=Cart&min_occurrences=-1"} {
		resp, err := http.Get(ts.URL + "/api/v1/advice" + q)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("advice%s status = %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestAdjustments(t *testing.T) {
	srv, ts := testServer(t)
	_, _, err := srv.store.Upsert(context.Background(), model.AntiPattern{
		Fingerprint: model.Fingerprint{ExceptionClass: "IntegrityError", EntityPattern: "Product", FieldPattern: "category_id"},
	})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(ts.URL + "/api/v1/adjustments?entity=Product")
	if err != nil {
		t.Fatal(err)
	}
	var adj model.Adjustments
	decodeBody(t, resp, &adj)
	ov, ok := adj.Fields["category_id"]
	if !ok || ov.Nullable == nil || !*ov.Nullable {
		t.Errorf("fields = %+v", adj.Fields)
	}

	resp, err = http.Get(ts.URL + "/api/v1/adjustments")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing entity status = %d, want 400", resp.StatusCode)
	}
}

func TestPatternEndpointsServeRemoteStore(t *testing.T) {
	_, ts := testServer(t)
	ctx := context.Background()
	remote := store.NewRemote(ts.URL)

	rec, created, err := remote.Upsert(ctx, model.AntiPattern{
		Fingerprint: model.Fingerprint{ExceptionClass: "KeyError", EntityPattern: "Order", FieldPattern: "sku"},
		Kind:        model.KindKey,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !created || rec.ID == "" {
		t.Fatalf("rec = %+v created = %v", rec, created)
	}

	got, err := remote.Get(ctx, rec.ID)
	if err != nil || got == nil {
		t.Fatalf("get: %v %v", got, err)
	}
	missing, err := remote.Get(ctx, "does-not-exist")
	if err != nil || missing != nil {
		t.Fatalf("get missing: %v %v", missing, err)
	}

	ps, err := remote.Query(ctx, store.QueryOpts{Entity: "Order", MinOccurrences: 1})
	if err != nil || len(ps) != 1 {
		t.Fatalf("query: %v %v", ps, err)
	}

	rp, created, err := remote.UpsertRepair(ctx, model.RepairPattern{
		RepairKey:      model.RepairKey{RepairType: "key", EntityPattern: "Order"},
		FixDescription: "Read sku with a default",
	})
	if err != nil || !created {
		t.Fatalf("upsert repair: %v %v", created, err)
	}
	if r, err := remote.GetRepair(ctx, rp.ID); err != nil || r == nil {
		t.Fatalf("get repair: %v %v", r, err)
	}
	rs, err := remote.QueryRepairs(ctx, store.RepairQueryOpts{Entity: "Order"})
	if err != nil || len(rs) != 1 {
		t.Fatalf("query repairs: %v %v", rs, err)
	}

	stats, err := remote.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.AntiPatterns != 1 || stats.Repairs != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := testServer(t)
	postJSON(t, ts.URL+"/api/v1/bridge", cartViolation()).Body.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `gf_violations_bridged_total{outcome="created"} 1`) {
		t.Errorf("metrics missing bridged counter:\n%s", body)
	}
}

func TestRemoteWriteInvalidatesAdvice(t *testing.T) {
	_, ts := testServer(t)
	ctx := context.Background()

	get := func() model.Advice {
		t.Helper()
		resp, err := http.Get(ts.URL + "/api/v1/advice?entity=Cart")
		if err != nil {
			t.Fatal(err)
		}
		var adv model.Advice
		decodeBody(t, resp, &adv)
		return adv
	}
	if adv := get(); len(adv.Avoid) != 0 {
		t.Fatalf("avoid before write = %v", adv.Avoid)
	}

	_, _, err := store.NewRemote(ts.URL).Upsert(ctx, model.AntiPattern{
		Fingerprint: model.Fingerprint{ExceptionClass: "IntegrityError", EntityPattern: "Cart", FieldPattern: "category_id"},
	})
	if err != nil {
		t.Fatalf("remote upsert: %v", err)
	}
	if adv := get(); len(adv.Avoid) != 1 {
		t.Errorf("avoid after write = %v, want the new pattern", adv.Avoid)
	}
}
