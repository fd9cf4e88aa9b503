package jnap

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const endpointPath = "/JNAP/"

// Client is a thin HTTP client for the JNAP admin protocol spoken by Velop
// nodes. All requests are POSTs to /JNAP/ with the action URN carried in a
// header and the parameters in the JSON body.
type Client struct {
	baseURL string
	auth    string
	http    *http.Client
}

// response is the JNAP envelope. Output is left raw so callers can decode
// into action-specific types.
type response struct {
	Result string          `json:"result"`
	Output json.RawMessage `json:"output"`
}

// transactionRequest is one entry in a core/Transaction batch.
type transactionRequest struct {
	Action  string `json:"action"`
	Request any    `json:"request"`
}

// NewClient creates a client for the node at host (IP or hostname, no
// scheme). The admin user is fixed by the firmware.
func NewClient(host, password string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: normalizeBaseURL(host),
		auth:    "Basic " + base64.StdEncoding.EncodeToString([]byte("admin:"+password)),
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

// Do issues a single JNAP action and decodes the output into out (which may
// be nil when the caller only cares about success).
func (c *Client) Do(ctx context.Context, action string, params, out any) error {
	raw, err := c.post(ctx, action, params)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s output: %v", ErrBadResponse, action, err)
	}
	return nil
}

// Batch issues several actions as one core/Transaction round trip. Outputs
// are returned raw in request order; entries whose action failed carry a
// non-nil error in the matching errs slot. The transport-level error is
// returned only when the whole transaction failed.
func (c *Client) Batch(ctx context.Context, actions []string, params []any) ([]json.RawMessage, []error, error) {
	if len(actions) != len(params) {
		return nil, nil, fmt.Errorf("jnap: batch actions/params length mismatch")
	}

	reqs := make([]transactionRequest, len(actions))
	for i := range actions {
		body := params[i]
		if body == nil {
			body = map[string]any{}
		}
		reqs[i] = transactionRequest{Action: actions[i], Request: body}
	}

	raw, err := c.post(ctx, ActionTransaction, reqs)
	if err != nil {
		return nil, nil, err
	}

	var responses []response
	if err := json.Unmarshal(raw, &responses); err != nil {
		return nil, nil, fmt.Errorf("%w: transaction output: %v", ErrBadResponse, err)
	}
	if len(responses) != len(actions) {
		return nil, nil, fmt.Errorf("%w: transaction returned %d responses for %d actions", ErrBadResponse, len(responses), len(actions))
	}

	outputs := make([]json.RawMessage, len(responses))
	errs := make([]error, len(responses))
	for i, r := range responses {
		if r.Result != "OK" {
			errs[i] = errorForResult(actions[i], r.Result)
			continue
		}
		outputs[i] = r.Output
	}
	return outputs, errs, nil
}

func (c *Client) post(ctx context.Context, action string, params any) (json.RawMessage, error) {
	if params == nil {
		params = map[string]any{}
	}
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpointPath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("X-JNAP-Action", action)
	req.Header.Set("X-JNAP-Authorization", c.auth)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	// JNAP reports failures in the envelope, not the HTTP status, but the
	// embedded server can still 404 on non-Velop hosts.
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(res.Body)
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return nil, fmt.Errorf("jnap: request failed: %s: %s", res.Status, msg)
		}
		return nil, fmt.Errorf("jnap: request failed: %s", res.Status)
	}

	var envelope response
	decoder := json.NewDecoder(res.Body)
	if err := decoder.Decode(&envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if envelope.Result != "OK" {
		return nil, errorForResult(action, envelope.Result)
	}
	return envelope.Output, nil
}

func normalizeBaseURL(host string) string {
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return strings.TrimSuffix(host, "/")
	}
	return "http://" + strings.TrimSuffix(host, "/")
}
