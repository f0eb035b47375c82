// Package httptransport is the real net/http implementation of
// apiclient.Transport (spec §1's "HTTP transport — a request/response
// primitive"). Grounded on the teacher's thin http.Client wrappers
// (pkg/mattermost/client.go, pkg/bookowl/client.go): a bare *http.Client
// plus a context-scoped per-call timeout, no retry or circuit logic of
// its own since that lives one layer up in the engine.
package httptransport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

// Transport is a plain net/http-backed apiclient.Transport.
type Transport struct {
	client *http.Client
}

// New creates a Transport. If client is nil, http.DefaultClient is used.
func New(client *http.Client) *Transport {
	if client == nil {
		client = http.DefaultClient
	}
	return &Transport{client: client}
}

// Do implements apiclient.Transport.
func (t *Transport) Do(ctx context.Context, method, url string, headers http.Header, body []byte, timeout time.Duration) (int, http.Header, []byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header = headers

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, resp.Header, nil, err
	}

	return resp.StatusCode, resp.Header, respBody, nil
}
