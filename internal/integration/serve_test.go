//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/scbrown/genfeedback/internal/model"
)

// freePort asks the OS for an unused port and returns it as a string.
func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return fmt.Sprintf("%d", port)
}

// startServe launches `gf serve` as a subprocess and waits for the health
// endpoint to respond. It returns the base URL.
func startServe(t *testing.T, e *gfEnv) string {
	t.Helper()
	addr := "127.0.0.1:" + freePort(t)
	cmd := exec.Command(gfBin, "serve", "--addr", addr)
	cmd.Env = append(os.Environ(), "HOME="+e.home)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		t.Fatalf("start gf serve: %v", err)
	}
	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})

	baseURL := "http://" + addr
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(baseURL + "/api/v1/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return baseURL
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("gf serve did not become healthy within 10s on %s", addr)
	return ""
}

// TestServeCycleAndAdvice posts a cycle to a running server and reads the
// advice back over HTTP.
func TestServeCycleAndAdvice(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	baseURL := startServe(t, e)

	body := `{"events":[` +
		strings.TrimSpace(string(event("POST", "/carts/7/items", "IntegrityError", "null value in column 'category_id'", 500))) + `,` +
		strings.TrimSpace(string(event("POST", "/carts/9/items", "IntegrityError", "null value in column 'category_id'", 500))) + `]}`
	resp, err := http.Post(baseURL+"/api/v1/cycle", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST cycle: %v", err)
	}
	var stats model.SessionStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode cycle: %v", err)
	}
	resp.Body.Close()
	if stats.Created != 1 || stats.Existing != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	resp, err = http.Get(baseURL + "/api/v1/advice?entity=Cart")
	if err != nil {
		t.Fatalf("GET advice: %v", err)
	}
	var adv model.Advice
	if err := json.NewDecoder(resp.Body).Decode(&adv); err != nil {
		t.Fatalf("decode advice: %v", err)
	}
	resp.Body.Close()
	if len(adv.Avoid) == 0 {
		t.Errorf("advice = %+v", adv)
	}
}

// TestServeMetrics checks that the metrics endpoint reports bridged
// violations and the Go runtime collectors.
func TestServeMetrics(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	baseURL := startServe(t, e)

	v := `{"endpoint":"GET /orders/{id}","violation_type":"not_found","detail":"Order 4 not found"}`
	resp, err := http.Post(baseURL+"/api/v1/bridge", "application/json", bytes.NewBufferString(v))
	if err != nil {
		t.Fatalf("POST bridge: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("bridge status = %d, want 201", resp.StatusCode)
	}

	resp, err = http.Get(baseURL + "/metrics")
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	for _, want := range []string{`gf_violations_bridged_total{outcome="created"} 1`, "go_goroutines"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

// TestRemoteRoundTrip runs one gf against a server started by another: a
// client configured with remote_url records through the server, and the
// server's own database holds the result.
func TestRemoteRoundTrip(t *testing.T) {
	t.Parallel()
	server := newEnv(t)
	baseURL := startServe(t, server)

	client := newEnv(t)
	client.writeConfig(fmt.Sprintf("remote_url = %q\n", baseURL))

	out := client.mustRun(cartFailures(), "record")
	if !strings.Contains(out, "1 new pattern(s), 1 recurring") {
		t.Fatalf("remote record output = %q", out)
	}

	var ps []model.AntiPattern
	client.mustJSON(&ps, nil, "patterns")
	if len(ps) != 1 || ps[0].OccurrenceCount != 2 {
		t.Fatalf("remote patterns = %+v", ps)
	}

	// The server's database has the same record.
	var local []model.AntiPattern
	server.mustJSON(&local, nil, "patterns")
	if len(local) != 1 || local[0].ID != ps[0].ID {
		t.Fatalf("server patterns = %+v", local)
	}

	prompt := client.mustRun(nil, "prompt", "Cart")
	if !strings.Contains(prompt, "category_id") {
		t.Errorf("remote prompt = %q", prompt)
	}
}
