package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// apiError wraps a non-2xx response from the suite runtime so the caller
// can map it to a CLI exit code.
type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("suite runtime returned %d: %s", e.status, e.body)
}

// unreachableError wraps a connection-level failure reaching the daemon.
type unreachableError struct {
	cause error
}

func (e *unreachableError) Error() string {
	return fmt.Sprintf("cannot reach suite runtime: %v", e.cause)
}

func (e *unreachableError) Unwrap() error { return e.cause }

func exitCodeFor(err error) int {
	var apiErr *apiError
	var unreachable *unreachableError
	switch {
	case asAPIError(err, &apiErr):
		switch apiErr.status {
		case http.StatusNotFound:
			return exitNotFound
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusBadRequest, http.StatusServiceUnavailable:
			return exitRejected
		default:
			return exitError
		}
	case asUnreachableError(err, &unreachable):
		return exitUnreachable
	default:
		return exitError
	}
}

func asAPIError(err error, target **apiError) bool {
	if e, ok := err.(*apiError); ok {
		*target = e
		return true
	}
	return false
}

func asUnreachableError(err error, target **unreachableError) bool {
	if e, ok := err.(*unreachableError); ok {
		*target = e
		return true
	}
	return false
}

type client struct {
	baseURL string
	token   string
	http    *http.Client
}

func newClient(cmd *cobra.Command) (*client, error) {
	addr, _ := cmd.Flags().GetString("addr")
	token, _ := cmd.Flags().GetString("token")
	return &client{
		baseURL: "http://" + addr,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (c *client) do(method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &unreachableError{cause: err}
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 300 {
		return &apiError{status: resp.StatusCode, body: string(data)}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
