// Package httptask issues single HTTP requests and converts every failure into
// a NetworkError instead of aborting the caller.
package httptask

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	monerrors "github.com/rcourtman/fabricpulse/internal/errors"
	"github.com/rcourtman/fabricpulse/internal/metrics"
)

const maxErrorBody = 512

// Request describes one HTTP call. Op, Controller and Node only feed error
// context and metrics.
type Request struct {
	Op         string
	Controller string
	Node       string
	Method     string
	URL        string
	Header     http.Header
	Body       []byte
}

// Response is a fully read 2xx response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Fetcher issues requests through a shared http.Client. No retries are made.
type Fetcher struct {
	client *http.Client
}

// NewFetcher wraps client; nil uses http.DefaultClient.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{client: client}
}

// Fetch performs the request. Transport failures and non-2xx statuses are
// returned as *errors.MonitorError.
func (f *Fetcher) Fetch(ctx context.Context, r Request) (resp *Response, err error) {
	defer func() {
		metrics.RecordRequest(r.Controller, r.Op, err)
	}()

	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return nil, wrap(monerrors.NewMonitorError(monerrors.ErrorTypeValidation, r.Op, r.Controller, err), r)
	}
	for key, values := range r.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	httpResp, err := f.client.Do(req)
	if err != nil {
		return nil, wrap(transportError(r, err), r)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, wrap(transportError(r, fmt.Errorf("read body: %w", err)), r)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		apiErr := fmt.Errorf("API error %d: %s", httpResp.StatusCode, msg)
		return nil, wrap(monerrors.WrapAPIError(r.Op, r.Controller, apiErr, httpResp.StatusCode), r)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
	}, nil
}

func transportError(r Request, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return monerrors.NewMonitorError(monerrors.ErrorTypeTimeout, r.Op, r.Controller, err)
	}
	return monerrors.WrapConnectionError(r.Op, r.Controller, err)
}

func wrap(err error, r Request) error {
	var monErr *monerrors.MonitorError
	if r.Node != "" && errors.As(err, &monErr) {
		monErr.WithNode(r.Node)
	}
	return err
}
