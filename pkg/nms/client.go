package nms

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/beevik/etree"
	monerrors "github.com/rcourtman/fabricpulse/internal/errors"
	"github.com/rcourtman/fabricpulse/internal/httptask"
	"github.com/rcourtman/fabricpulse/pkg/tlsutil"
)

// Client queries the downstream monitoring system's REST API.
type Client struct {
	baseURL *url.URL
	fetcher *httptask.Fetcher
}

// ClientConfig holds configuration for the monitoring system client
type ClientConfig struct {
	BaseURL    string // e.g. https://nms.example.net:8443/opennms
	User       string
	Password   string
	VerifySSL  bool
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewClient creates a new monitoring system client. Credentials are embedded
// in the base URL as basic auth.
func NewClient(cfg ClientConfig) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse monitoring system URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("monitoring system URL %q must include scheme and host", cfg.BaseURL)
	}
	if cfg.User != "" {
		base.User = url.UserPassword(cfg.User, cfg.Password)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = tlsutil.CreateHTTPClient(cfg.VerifySSL, "", cfg.Timeout)
	}

	return &Client{
		baseURL: base,
		fetcher: httptask.NewFetcher(httpClient),
	}, nil
}

// NodeID looks up the node whose label matches the controller name and
// returns its identifier.
func (c *Client) NodeID(ctx context.Context, label string) (string, error) {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/rest/nodes"
	u.RawQuery = url.Values{"label": {label}}.Encode()

	resp, err := c.fetcher.Fetch(ctx, httptask.Request{
		Op:         "node_id",
		Controller: label,
		URL:        u.String(),
		Header:     http.Header{"Accept": []string{"application/xml"}},
	})
	if err != nil {
		return "", err
	}

	id, err := parseNodeID(resp.Body)
	if err != nil {
		return "", monerrors.NewMonitorError(monerrors.ErrorTypeAPI, "node_id", label, err).WithStatusCode(http.StatusNotFound)
	}
	return id, nil
}

func parseNodeID(data []byte) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return "", fmt.Errorf("parse node list: %w", err)
	}

	node := doc.FindElement("//node")
	if node == nil {
		return "", errors.New("no node with matching label")
	}
	id := strings.TrimSpace(node.SelectAttrValue("id", ""))
	if id == "" {
		return "", errors.New("node element has no id")
	}
	return id, nil
}
