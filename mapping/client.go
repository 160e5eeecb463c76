// Package mapping provides the REST client for the tag-mapping
// persistence store. The store is the single source of truth for mapping
// uniqueness; this client only translates its responses, it never retries
// or caches.
package mapping

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/flowmart/rfid-sync-agent/buildinfo"
	"github.com/flowmart/rfid-sync-agent/rfid"
)

// maxResponseSize limits response bodies to guard against a misbehaving
// store exhausting memory.
const maxResponseSize = 4 * 1024 * 1024

// DefaultTimeout bounds each store call when the config does not set one.
const DefaultTimeout = 10 * time.Second

// Client talks to the tag-mapping store.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a store client for the given base URL.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Create registers a new mapping for the EPC. When the store reports the
// EPC as already mapped the returned error wraps ErrAlreadyMapped.
func (c *Client) Create(ctx context.Context, req CreateRequest) (TagMapping, error) {
	req.EPC = rfid.NormalizeEPC(req.EPC)
	if req.EPC == "" {
		return TagMapping{}, &StoreError{Op: "Create", Message: "empty epc"}
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/tag-mapping/create", req, opCreate)
	if err != nil {
		return TagMapping{}, err
	}

	var m TagMapping
	if err := json.Unmarshal(body, &m); err != nil {
		return TagMapping{}, &StoreError{Op: "Create", Message: "invalid response body", Cause: err}
	}
	c.logger.Debug("mapping created",
		zap.String("epc", m.EPC),
		zap.String("id", m.ID))
	return m, nil
}

// List returns all mappings held by the store.
func (c *Client) List(ctx context.Context) ([]TagMapping, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/tag-mapping/list", nil, opGeneric)
	if err != nil {
		return nil, err
	}

	var mappings []TagMapping
	if err := json.Unmarshal(body, &mappings); err != nil {
		return nil, &StoreError{Op: "List", Message: "invalid response body", Cause: err}
	}
	return mappings, nil
}

// Delete removes the mapping with the given id.
func (c *Client) Delete(ctx context.Context, id string) error {
	if id == "" {
		return &StoreError{Op: "Delete", Message: "empty id"}
	}
	_, err := c.doRequest(ctx, http.MethodDelete, "/tag-mapping/"+id, nil, opDelete)
	return err
}

// Verify asks the store whether the EPC and the code correspond.
func (c *Client) Verify(ctx context.Context, epc, qrCode string) (VerifyResult, error) {
	req := VerifyRequest{EPC: rfid.NormalizeEPC(epc), QRCode: qrCode}

	body, err := c.doRequest(ctx, http.MethodPost, "/tag-mapping/verify", req, opGeneric)
	if err != nil {
		return VerifyResult{}, err
	}

	var result VerifyResult
	if err := json.Unmarshal(body, &result); err != nil {
		return VerifyResult{}, &StoreError{Op: "Verify", Message: "invalid response body", Cause: err}
	}
	return result, nil
}

// FindByEPC looks up the existing mapping for an EPC via List. The store
// exposes no direct get-by-epc endpoint, so this filters client-side; it
// backs the follow-up lookup after a create conflict.
func (c *Client) FindByEPC(ctx context.Context, epc string) (TagMapping, bool, error) {
	epc = rfid.NormalizeEPC(epc)

	mappings, err := c.List(ctx)
	if err != nil {
		return TagMapping{}, false, err
	}
	for _, m := range mappings {
		if rfid.NormalizeEPC(m.EPC) == epc {
			return m, true, nil
		}
	}
	return TagMapping{}, false, nil
}

// opKind selects how non-2xx statuses translate to errors per endpoint.
type opKind int

const (
	opGeneric opKind = iota
	opCreate         // 400 means "already mapped"
	opDelete         // 404 means "not found"
)

func (c *Client) doRequest(ctx context.Context, method, path string, payload any, kind opKind) ([]byte, error) {
	op := method + " " + path

	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, &StoreError{Op: op, Message: "failed to marshal request", Cause: err}
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, &StoreError{Op: op, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &StoreError{Op: op, Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &StoreError{Op: op, Status: resp.StatusCode, Message: "failed to read response", Cause: err}
	}

	if resp.StatusCode >= 400 {
		switch {
		case kind == opCreate && resp.StatusCode == http.StatusBadRequest:
			return nil, &StoreError{Op: op, Status: resp.StatusCode, Message: "mapping already exists", Cause: ErrAlreadyMapped}
		case kind == opDelete && resp.StatusCode == http.StatusNotFound:
			return nil, &StoreError{Op: op, Status: resp.StatusCode, Message: "mapping not found", Cause: ErrNotFound}
		default:
			msg := "unexpected status"
			if detail := strings.TrimSpace(string(body)); detail != "" {
				msg = fmt.Sprintf("unexpected status: %.200s", detail)
			}
			return nil, &StoreError{Op: op, Status: resp.StatusCode, Message: msg}
		}
	}

	return body, nil
}
