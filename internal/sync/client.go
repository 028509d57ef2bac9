package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gocid "github.com/ipfs/go-cid"

	"github.com/driftvcs/drift/internal/object"
)

// Client speaks the wire protocol over HTTP to a drift daemon.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for the daemon at the given URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) url(parts ...string) string {
	return c.baseURL + "/v1/" + strings.Join(parts, "/")
}

// ListBranches fetches the remote's branch pointer set.
func (c *Client) ListBranches(ctx context.Context) (map[string]gocid.Cid, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("branches"), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("list branches: status %d: %s", resp.StatusCode, body)
	}

	var result struct {
		Branches map[string]string `json:"branches"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("list branches: parse response: %w", err)
	}
	out := make(map[string]gocid.Cid, len(result.Branches))
	for name, s := range result.Branches {
		id, err := parseWireID(s)
		if err != nil {
			return nil, fmt.Errorf("list branches: branch %s: %w", name, err)
		}
		out[name] = id
	}
	return out, nil
}

// GetObject downloads one object's encoding.
func (c *Client) GetObject(ctx context.Context, id gocid.Cid) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("objects", object.IDToString(id)), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", object.ErrObjectNotFound, id)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("get object: status %d: %s", resp.StatusCode, body)
	}
	return io.ReadAll(resp.Body)
}

// PutObject uploads one object's encoding.
func (c *Client) PutObject(ctx context.Context, id gocid.Cid, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.url("objects", object.IDToString(id)), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("put object: status %d: %s", resp.StatusCode, body)
	}
	return nil
}

type casRequest struct {
	Old string `json:"old,omitempty"`
	New string `json:"new"`
}

type casConflict struct {
	Actual string `json:"actual,omitempty"`
}

// CASUpdateBranch conditionally advances a remote branch pointer.
func (c *Client) CASUpdateBranch(ctx context.Context, branch string, expectedOld, newValue gocid.Cid) (gocid.Cid, error) {
	body := casRequest{New: object.IDToString(newValue)}
	if expectedOld != gocid.Undef {
		body.Old = object.IDToString(expectedOld)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return gocid.Undef, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("branches", branch), bytes.NewReader(payload))
	if err != nil {
		return gocid.Undef, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return gocid.Undef, fmt.Errorf("%w: %v", ErrRemoteUnreachable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return newValue, nil
	case http.StatusConflict:
		var conflict casConflict
		if err := json.NewDecoder(resp.Body).Decode(&conflict); err != nil {
			return gocid.Undef, fmt.Errorf("cas update: parse conflict: %w", err)
		}
		actual := gocid.Undef
		if conflict.Actual != "" {
			if actual, err = parseWireID(conflict.Actual); err != nil {
				return gocid.Undef, err
			}
		}
		return actual, fmt.Errorf("%w: %s is at %s", ErrNonFastForward, branch, actual)
	default:
		respBody, _ := io.ReadAll(resp.Body)
		return gocid.Undef, fmt.Errorf("cas update: status %d: %s", resp.StatusCode, respBody)
	}
}
