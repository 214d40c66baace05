package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
)

// HTTPPusher posts push requests to a fixed URL using net/http.
type HTTPPusher struct {
	URL    string
	Client *http.Client
}

func NewHTTPPusher(url string) *HTTPPusher {
	return &HTTPPusher{URL: url, Client: http.DefaultClient}
}

func (p *HTTPPusher) Push(ctx context.Context, req PushRequest, auth string) (PushResponse, error) {
	var resp PushResponse
	err := doJSON(ctx, p.client(), p.URL, auth, req, &resp)
	return resp, err
}

func (p *HTTPPusher) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return http.DefaultClient
}

// HTTPPuller posts pull requests to a fixed URL using net/http.
type HTTPPuller struct {
	URL    string
	Client *http.Client
}

func NewHTTPPuller(url string) *HTTPPuller {
	return &HTTPPuller{URL: url, Client: http.DefaultClient}
}

func (p *HTTPPuller) Pull(ctx context.Context, req PullRequest, auth string) (PullResponse, error) {
	var resp PullResponse
	err := doJSON(ctx, p.client(), p.URL, auth, req, &resp)
	return resp, err
}

func (p *HTTPPuller) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return http.DefaultClient
}

func doJSON(ctx context.Context, client *http.Client, url, auth string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if auth != "" {
		httpReq.Header.Set("Authorization", auth)
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return Unauthorized{}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &HTTPError{Status: resp.StatusCode, Body: string(respBody)}
	}
	if len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}
