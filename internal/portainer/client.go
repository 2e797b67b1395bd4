// Package portainer is a thin synchronous client for the orchestration
// manager's HTTP API. Calls carry a short timeout and are never retried;
// callers decide whether a failure is fatal or skippable.
package portainer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/docker/go-connections/tlsconfig"

	"github.com/seralvz/stackvault/internal/models"
)

// Error kinds surfaced to callers. Authentication failures and malformed
// responses are distinct from plain unavailability and are never treated as
// "zero stacks".
var (
	ErrAuthentication = errors.New("portainer: authentication failed")
	ErrUnavailable    = errors.New("portainer: api unavailable")
	ErrMalformed      = errors.New("portainer: malformed response")
	ErrConflict       = errors.New("portainer: stack name already exists")
	ErrNotFound       = errors.New("portainer: stack not found")
)

const requestTimeout = 10 * time.Second

// StackAPI is the surface the capture and restore paths depend on.
type StackAPI interface {
	Authenticate(ctx context.Context, username, password string) (string, error)
	ListStacks(ctx context.Context, endpointID int) ([]models.StackRecord, error)
	CreateStack(ctx context.Context, name, manifest string, endpointID int) (models.StackRecord, error)
	DeleteStack(ctx context.Context, id int64, endpointID int) error
}

// Client talks to one Portainer instance and is safe for concurrent use:
// the session token is guarded so a handler can re-authenticate while a
// long-running operation holds the client.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.Mutex
	token string
}

// New creates a client for the given base URL. skipVerify disables TLS
// certificate verification for self-signed manager endpoints.
func New(baseURL string, skipVerify bool) (*Client, error) {
	tlsCfg, err := tlsconfig.Client(tlsconfig.Options{InsecureSkipVerify: skipVerify})
	if err != nil {
		return nil, fmt.Errorf("building tls config: %w", err)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   requestTimeout,
			Transport: &http.Transport{TLSClientConfig: tlsCfg},
		},
	}, nil
}

type authRequest struct {
	Username string `json:"Username"`
	Password string `json:"Password"`
}

type authResponse struct {
	JWT string `json:"jwt"`
}

// Authenticate exchanges credentials for a session token. The token is also
// remembered on the client for subsequent calls.
func (c *Client) Authenticate(ctx context.Context, username, password string) (string, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/auth", authRequest{Username: username, Password: password})
	if err != nil {
		return "", err
	}
	var auth authResponse
	if err := json.Unmarshal(body, &auth); err != nil || auth.JWT == "" {
		return "", fmt.Errorf("%w: auth response missing token", ErrMalformed)
	}
	c.mu.Lock()
	c.token = auth.JWT
	c.mu.Unlock()
	return auth.JWT, nil
}

// stackEnvelope is the manager's wire shape for a stack. The list endpoint
// usually omits the file content.
type stackEnvelope struct {
	ID     int64  `json:"Id"`
	Name   string `json:"Name"`
	Status int    `json:"Status"` // 1 = active, 2 = inactive
	File   string `json:"StackFileContent,omitempty"`
}

func (e stackEnvelope) record() models.StackRecord {
	status := models.StackStatusActive
	if e.Status == 2 {
		status = models.StackStatusInactive
	}
	return models.StackRecord{ID: e.ID, Name: e.Name, Status: status, ComposeContent: e.File}
}

// ListStacks returns all stacks of an endpoint in the manager's enumeration
// order, with manifest content populated. When the list response does not
// carry the content, one detail request per stack fills it in. A stack whose
// detail request fails is returned with ManifestMissing set rather than being
// dropped from the result.
func (c *Client) ListStacks(ctx context.Context, endpointID int) ([]models.StackRecord, error) {
	filters := url.QueryEscape(fmt.Sprintf(`{"EndpointId":%d}`, endpointID))
	body, err := c.do(ctx, http.MethodGet, "/api/stacks?filters="+filters, nil)
	if err != nil {
		return nil, err
	}
	var envelopes []stackEnvelope
	if err := json.Unmarshal(body, &envelopes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	records := make([]models.StackRecord, 0, len(envelopes))
	for _, e := range envelopes {
		rec := e.record()
		if rec.ComposeContent == "" {
			content, err := c.StackFile(ctx, e.ID)
			if err != nil {
				rec.ManifestMissing = true
			} else {
				rec.ComposeContent = content
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// StackFile fetches the stored manifest of one stack. The manager echoes it
// wrapped in a JSON envelope under StackFileContent; the raw body is returned
// verbatim so that captures round-trip the manager's native storage form.
// models.UnwrapManifest resolves the envelope at use time.
func (c *Client) StackFile(ctx context.Context, id int64) (string, error) {
	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/stacks/%d/file", id), nil)
	if err != nil {
		return "", err
	}
	if !json.Valid(body) {
		return "", fmt.Errorf("%w: stack file response is not JSON", ErrMalformed)
	}
	return string(body), nil
}

type createStackRequest struct {
	Name             string `json:"Name"`
	StackFileContent string `json:"StackFileContent"`
}

// CreateStack creates a standalone stack from a plain (unwrapped) manifest.
// The manager assigns a fresh ID; ErrConflict is returned when the name is
// already taken on the endpoint.
func (c *Client) CreateStack(ctx context.Context, name, manifest string, endpointID int) (models.StackRecord, error) {
	path := fmt.Sprintf("/api/stacks/create/standalone/string?endpointId=%d", endpointID)
	body, err := c.do(ctx, http.MethodPost, path, createStackRequest{Name: name, StackFileContent: manifest})
	if err != nil {
		return models.StackRecord{}, err
	}
	var e stackEnvelope
	if err := json.Unmarshal(body, &e); err != nil {
		return models.StackRecord{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return e.record(), nil
}

// DeleteStack removes a stack by its manager-assigned ID.
func (c *Client) DeleteStack(ctx context.Context, id int64, endpointID int) error {
	_, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/stacks/%d?endpointId=%d", id, endpointID), nil)
	return err
}

// do performs one HTTP round trip and maps transport and status failures onto
// the package error kinds.
func (c *Client) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusUnprocessableEntity && path == "/api/auth":
		return nil, fmt.Errorf("%w: %s", ErrAuthentication, strings.TrimSpace(string(body)))
	case resp.StatusCode == http.StatusConflict:
		return nil, fmt.Errorf("%w: %s", ErrConflict, strings.TrimSpace(string(body)))
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSpace(string(body)))
	default:
		return nil, fmt.Errorf("portainer: %s %s returned %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
}
