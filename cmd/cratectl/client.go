package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
)

type validatorClient struct {
	baseURL string
	http    *http.Client
}

func newClient() *validatorClient {
	return &validatorClient{
		baseURL: serverURL,
		http: &http.Client{
			Timeout: clientTimeout,
		},
	}
}

// response is a completed request whose status was one of the accepted codes.
type response struct {
	status   int
	location string
	body     []byte
}

// do sends body as JSON (when non-nil) and fails unless the status is in ok.
func (c *validatorClient) do(method, path string, body any, ok ...int) (*response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal error: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("request creation failed: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(ok) == 0 {
		ok = []int{http.StatusOK}
	}
	if !slices.Contains(ok, resp.StatusCode) {
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	return &response{status: resp.StatusCode, location: resp.Header.Get("Location"), body: data}, nil
}

// getJSON performs a GET request and decodes the response.
func (c *validatorClient) getJSON(path string, v any) error {
	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.body, v); err != nil {
		return fmt.Errorf("decode error: %w", err)
	}
	return nil
}
