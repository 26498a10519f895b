package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/dirwatch/dirwatch"
)

// defaultSocketPath is the control socket used when -socket is not passed.
var defaultSocketPath = dirwatch.DefaultSocketConfig().Path

func registerSocketFlag(fs *flag.FlagSet) *string {
	return fs.String("socket", defaultSocketPath, "control socket path")
}

// newSocketClient returns an HTTP client that connects to the control socket.
// A zero timeout disables the client timeout for streaming requests.
func newSocketClient(socketPath string, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				if timeout > 0 {
					d.Timeout = timeout
				}
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
	}
}

// doJSON sends req to path on the control socket and decodes the response
// into resp. Non-200 responses are returned as errors prefixed with action.
func doJSON(ctx context.Context, client *http.Client, method, path, action string, req, resp any) error {
	var body io.Reader
	if req != nil {
		reqBody, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(reqBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, "http://localhost"+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to connect to control socket: %w", err)
	}
	defer httpResp.Body.Close()

	buf, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		var errResp dirwatch.ErrorResponse
		if err := json.Unmarshal(buf, &errResp); err == nil && errResp.Error != "" {
			return fmt.Errorf("%s failed: %s", action, errResp.Error)
		}
		return fmt.Errorf("%s failed: %s", action, string(buf))
	}

	if err := json.Unmarshal(buf, resp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// printJSON writes v as indented JSON to w.
func printJSON(w io.Writer, v any) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format response: %w", err)
	}
	_, err = fmt.Fprintln(w, string(output))
	return err
}
