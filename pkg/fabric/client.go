package fabric

import (
	"context"
	"encoding/json"
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
	"github.com/rs/zerolog/log"
)

// Managed object classes queried on the controller.
const (
	ClassFabricNode   = "fabricNode"
	ClassPhysIf       = "l1PhysIf"
	ClassFault        = "faultInst"
	ClassPolicerUsage = "eqptcapacityPolUsage5min"
	ClassIngressStats = "eqptIngrTotal5min"
	ClassEgressStats  = "eqptEgrTotal5min"

	sessionCookie = "APIC-cookie"
)

// Client is a fabric controller REST API client. It keeps no session state of
// its own; callers pass the Session returned by Login to every query.
type Client struct {
	name    string
	baseURL string
	fetcher *httptask.Fetcher
	config  ClientConfig
}

// ClientConfig holds configuration for one controller.
type ClientConfig struct {
	Name        string
	Address     string
	Scheme      string
	User        string
	Password    string
	VerifySSL   bool
	Fingerprint string
	Timeout     time.Duration
	FaultFilter string       // optional query-target-filter for the fault query
	HTTPClient  *http.Client // overrides the TLS-aware client built from the fields above
}

// Session is the explicit authentication state of one controller.
type Session struct {
	Token     string
	CreatedAt time.Time
}

// Valid reports whether the session carries a token.
func (s Session) Valid() bool {
	return s.Token != ""
}

func (s Session) header() http.Header {
	h := http.Header{}
	if s.Valid() {
		h.Set("Cookie", sessionCookie+"="+s.Token)
	}
	return h
}

// NewClient creates a new controller API client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, fmt.Errorf("controller %q: address is required", cfg.Name)
	}

	scheme := strings.ToLower(strings.TrimSpace(cfg.Scheme))
	if scheme == "" {
		scheme = "https"
	}
	if scheme == "http" {
		log.Warn().Str("controller", cfg.Name).Msg("Using HTTP for controller connection - consider enabling HTTPS")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = tlsutil.CreateHTTPClient(cfg.VerifySSL, cfg.Fingerprint, cfg.Timeout)
	}

	address := strings.TrimSuffix(strings.TrimSpace(cfg.Address), "/")
	if strings.Contains(address, "://") {
		return nil, fmt.Errorf("controller %q: address must not include a scheme", cfg.Name)
	}

	return &Client{
		name:    cfg.Name,
		baseURL: scheme + "://" + address,
		fetcher: httptask.NewFetcher(httpClient),
		config:  cfg,
	}, nil
}

// Name returns the controller name.
func (c *Client) Name() string {
	return c.name
}

type loginRequest struct {
	User struct {
		Attributes struct {
			Name string `json:"name"`
			Pwd  string `json:"pwd"`
		} `json:"attributes"`
	} `json:"aaaUser"`
}

type loginResponse struct {
	Imdata []struct {
		Login *struct {
			Attributes struct {
				Token string `json:"token"`
			} `json:"attributes"`
		} `json:"aaaLogin"`
		Error *struct {
			Attributes struct {
				Code string `json:"code"`
				Text string `json:"text"`
			} `json:"attributes"`
		} `json:"error"`
	} `json:"imdata"`
}

// Login authenticates against the controller and returns the session to use
// for later queries.
func (c *Client) Login(ctx context.Context) (Session, error) {
	var payload loginRequest
	payload.User.Attributes.Name = c.config.User
	payload.User.Attributes.Pwd = c.config.Password

	body, err := json.Marshal(payload)
	if err != nil {
		return Session{}, err
	}

	resp, err := c.fetcher.Fetch(ctx, httptask.Request{
		Op:         "login",
		Controller: c.name,
		Method:     http.MethodPost,
		URL:        c.baseURL + "/api/aaaLogin.json",
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       body,
	})
	if err != nil {
		return Session{}, err
	}

	var result loginResponse
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return Session{}, monerrors.NewMonitorError(monerrors.ErrorTypeAPI, "login", c.name, fmt.Errorf("decode login response: %w", err))
	}

	token := ""
	for _, item := range result.Imdata {
		if item.Error != nil {
			return Session{}, monerrors.NewMonitorError(monerrors.ErrorTypeAuth, "login", c.name,
				fmt.Errorf("controller rejected login (code %s): %s", item.Error.Attributes.Code, item.Error.Attributes.Text))
		}
		if item.Login != nil && item.Login.Attributes.Token != "" {
			token = item.Login.Attributes.Token
			break
		}
	}
	if token == "" {
		token = cookieValue(resp.Header, sessionCookie)
	}
	if token == "" {
		return Session{}, monerrors.NewMonitorError(monerrors.ErrorTypeAuth, "login", c.name, errors.New("no session token in login response"))
	}

	return Session{Token: token, CreatedAt: time.Now()}, nil
}

func cookieValue(h http.Header, name string) string {
	resp := http.Response{Header: h}
	for _, ck := range resp.Cookies() {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

// Object is one managed object returned by a query.
type Object struct {
	Class string
	Attrs map[string]string
}

// Attr returns the named attribute or "".
func (o Object) Attr(name string) string {
	return o.Attrs[name]
}

// DN returns the distinguished name of the object.
func (o Object) DN() string {
	return o.Attrs["dn"]
}

// query issues an XML GET and parses the imdata children.
func (c *Client) query(ctx context.Context, s Session, op, node, path string, params url.Values) ([]Object, error) {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	resp, err := c.fetcher.Fetch(ctx, httptask.Request{
		Op:         op,
		Controller: c.name,
		Node:       node,
		URL:        target,
		Header:     s.header(),
	})
	if err != nil {
		return nil, err
	}

	objects, err := ParseObjects(resp.Body)
	if err != nil {
		monErr := monerrors.NewMonitorError(monerrors.ErrorTypeAPI, op, c.name, err)
		if node != "" {
			monErr.WithNode(node)
		}
		return nil, monErr
	}
	return objects, nil
}

// ParseObjects parses an imdata XML document into objects. An error element
// in the document is reported as an error.
func ParseObjects(data []byte) ([]Object, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("parse XML: %w", err)
	}

	root := doc.Root()
	if root == nil {
		return nil, errors.New("empty XML document")
	}

	children := root.ChildElements()
	objects := make([]Object, 0, len(children))
	for _, el := range children {
		if el.Tag == "error" {
			return nil, fmt.Errorf("controller error %s: %s", el.SelectAttrValue("code", "?"), el.SelectAttrValue("text", ""))
		}
		attrs := make(map[string]string, len(el.Attr))
		for _, a := range el.Attr {
			attrs[a.Key] = a.Value
		}
		objects = append(objects, Object{Class: el.Tag, Attrs: attrs})
	}
	return objects, nil
}

// Capacity returns the policer CAM usage entities.
func (c *Client) Capacity(ctx context.Context, s Session) ([]Object, error) {
	return c.query(ctx, s, "capacity", "", "/api/node/class/"+ClassPolicerUsage+".xml", nil)
}

// Faults returns the active fault instances.
func (c *Client) Faults(ctx context.Context, s Session) ([]Object, error) {
	var params url.Values
	if filter := strings.TrimSpace(c.config.FaultFilter); filter != "" {
		params = url.Values{"query-target-filter": {filter}}
	}
	return c.query(ctx, s, "faults", "", "/api/node/class/"+ClassFault+".xml", params)
}

// Nodes returns the fabric node inventory.
func (c *Client) Nodes(ctx context.Context, s Session) ([]Object, error) {
	return c.query(ctx, s, "nodes", "", "/api/node/class/"+ClassFabricNode+".xml", nil)
}

// Interfaces returns the physical interfaces of the node identified by nodeDN.
func (c *Client) Interfaces(ctx context.Context, s Session, nodeDN string) ([]Object, error) {
	return c.query(ctx, s, "interfaces", nodeName(nodeDN), "/api/node/class/"+nodeDN+"/"+ClassPhysIf+".xml", nil)
}

// InterfaceStats returns the attributes of the first statsClass child of the
// interface, with bookkeeping attributes removed. An interface without
// counters yields an empty map.
func (c *Client) InterfaceStats(ctx context.Context, s Session, nodeDN, ifID, statsClass string) (map[string]string, error) {
	path := fmt.Sprintf("/api/node/mo/%s/sys/phys-[%s].xml", nodeDN, ifID)
	params := url.Values{
		"query-target":         {"children"},
		"target-subtree-class": {statsClass},
	}

	objects, err := c.query(ctx, s, "interface_stats", nodeName(nodeDN), path, params)
	if err != nil {
		return nil, err
	}

	stats := make(map[string]string)
	for _, obj := range objects {
		if obj.Class != statsClass {
			continue
		}
		for k, v := range obj.Attrs {
			switch k {
			case "dn", "rn", "childAction", "status":
				continue
			}
			stats[k] = v
		}
		break
	}
	return stats, nil
}

// nodeName returns the node-N component of a distinguished name.
func nodeName(dn string) string {
	for _, part := range strings.Split(dn, "/") {
		if strings.HasPrefix(part, "node-") {
			return strings.TrimPrefix(part, "node-")
		}
	}
	return dn
}
