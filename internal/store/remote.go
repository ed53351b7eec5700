package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/scbrown/genfeedback/internal/model"
)

// UpsertResponse is the wire form of an Upsert result.
type UpsertResponse struct {
	Pattern model.AntiPattern `json:"pattern"`
	Created bool              `json:"created"`
}

// RepairUpsertResponse is the wire form of an UpsertRepair result.
type RepairUpsertResponse struct {
	Repair  model.RepairPattern `json:"repair"`
	Created bool                `json:"created"`
}

// RemoteStore implements Store by forwarding requests over HTTP to a gf serve instance.
type RemoteStore struct {
	baseURL string
	client  *http.Client
}

// NewRemote creates a RemoteStore pointing at the given base URL (e.g., "http://localhost:7274").
func NewRemote(baseURL string) *RemoteStore {
	return &RemoteStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (r *RemoteStore) Get(ctx context.Context, id string) (*model.AntiPattern, error) {
	var p model.AntiPattern
	found, err := r.getJSON(ctx, "/api/v1/patterns/"+url.PathEscape(id), nil, &p)
	if err != nil || !found {
		return nil, err
	}
	return &p, nil
}

func (r *RemoteStore) Upsert(ctx context.Context, p model.AntiPattern) (model.AntiPattern, bool, error) {
	var resp UpsertResponse
	if err := r.postJSON(ctx, "/api/v1/patterns", p, &resp); err != nil {
		return model.AntiPattern{}, false, err
	}
	return resp.Pattern, resp.Created, nil
}

func (r *RemoteStore) Query(ctx context.Context, opts QueryOpts) ([]model.AntiPattern, error) {
	var patterns []model.AntiPattern
	if _, err := r.getJSON(ctx, "/api/v1/patterns", opts.Values(), &patterns); err != nil {
		return nil, err
	}
	return patterns, nil
}

func (r *RemoteStore) GetRepair(ctx context.Context, id string) (*model.RepairPattern, error) {
	var rp model.RepairPattern
	found, err := r.getJSON(ctx, "/api/v1/repairs/"+url.PathEscape(id), nil, &rp)
	if err != nil || !found {
		return nil, err
	}
	return &rp, nil
}

func (r *RemoteStore) UpsertRepair(ctx context.Context, rp model.RepairPattern) (model.RepairPattern, bool, error) {
	var resp RepairUpsertResponse
	if err := r.postJSON(ctx, "/api/v1/repairs", rp, &resp); err != nil {
		return model.RepairPattern{}, false, err
	}
	return resp.Repair, resp.Created, nil
}

func (r *RemoteStore) QueryRepairs(ctx context.Context, opts RepairQueryOpts) ([]model.RepairPattern, error) {
	var repairs []model.RepairPattern
	if _, err := r.getJSON(ctx, "/api/v1/repairs", opts.Values(), &repairs); err != nil {
		return nil, err
	}
	return repairs, nil
}

func (r *RemoteStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	if _, err := r.getJSON(ctx, "/api/v1/stats", nil, &stats); err != nil {
		return stats, err
	}
	return stats, nil
}

// Close is a no-op for the remote store.
func (r *RemoteStore) Close() error {
	return nil
}

// Values encodes opts as URL query parameters.
func (o QueryOpts) Values() url.Values {
	q := url.Values{}
	if o.Entity != "" {
		q.Set("entity", o.Entity)
	}
	if o.Endpoint != "" {
		q.Set("endpoint", o.Endpoint)
	}
	if o.ErrorType != "" {
		q.Set("error_type", o.ErrorType)
	}
	if o.Kind != "" {
		q.Set("kind", string(o.Kind))
	}
	if o.MinOccurrences > 0 {
		q.Set("min_occurrences", strconv.Itoa(o.MinOccurrences))
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	return q
}

// ParseQueryOpts decodes QueryOpts from URL query parameters.
func ParseQueryOpts(q url.Values) (QueryOpts, error) {
	opts := QueryOpts{
		Entity:    q.Get("entity"),
		Endpoint:  q.Get("endpoint"),
		ErrorType: q.Get("error_type"),
	}
	if k := q.Get("kind"); k != "" {
		opts.Kind = model.ParseErrorKind(k)
	}
	var err error
	if opts.MinOccurrences, err = intParam(q, "min_occurrences"); err != nil {
		return opts, err
	}
	if opts.Limit, err = intParam(q, "limit"); err != nil {
		return opts, err
	}
	return opts, nil
}

// Values encodes opts as URL query parameters.
func (o RepairQueryOpts) Values() url.Values {
	q := url.Values{}
	if o.Entity != "" {
		q.Set("entity", o.Entity)
	}
	if o.Endpoint != "" {
		q.Set("endpoint", o.Endpoint)
	}
	if o.RepairType != "" {
		q.Set("repair_type", o.RepairType)
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	return q
}

// ParseRepairQueryOpts decodes RepairQueryOpts from URL query parameters.
func ParseRepairQueryOpts(q url.Values) (RepairQueryOpts, error) {
	opts := RepairQueryOpts{
		Entity:     q.Get("entity"),
		Endpoint:   q.Get("endpoint"),
		RepairType: q.Get("repair_type"),
	}
	var err error
	opts.Limit, err = intParam(q, "limit")
	return opts, err
}

func intParam(q url.Values, name string) (int, error) {
	v := q.Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return n, nil
}

// getJSON performs a GET request and decodes the JSON response into dst.
// A 404 reports found=false with no error.
func (r *RemoteStore) getJSON(ctx context.Context, path string, query url.Values, dst any) (bool, error) {
	u := r.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("remote request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, remoteError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return false, fmt.Errorf("decoding response: %w", err)
	}
	return true, nil
}

// postJSON performs a POST request with a JSON body and optionally decodes the response.
func (r *RemoteStore) postJSON(ctx context.Context, path string, body any, dst any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	u := r.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("remote request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return remoteError(resp)
	}
	if dst != nil {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// remoteError reads an error response from the server and returns it as an error.
func remoteError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return fmt.Errorf("remote store (%d): %s", resp.StatusCode, errResp.Error)
	}
	return fmt.Errorf("remote store (%d): %s", resp.StatusCode, http.StatusText(resp.StatusCode))
}
