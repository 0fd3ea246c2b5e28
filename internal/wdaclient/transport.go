package wdaclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// dispatchOpts describes a single request's timeout regime, per §4.2.3. No
// request helper takes it: rawGet/rawPost/rawDelete receive the timeout
// directly, and fetchSource handles the /source soft timeout itself.
type dispatchOpts struct {
	// RaiseOnTimeout marks a call whose timeout does not invalidate the
	// connection (the /source case).
	RaiseOnTimeout bool
	Timeout        time.Duration
}

func rawGet(ctx context.Context, client *http.Client, baseURL, path string, timeout time.Duration) (map[string]interface{}, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return do(client, req)
}

func rawPost(ctx context.Context, client *http.Client, baseURL, path string, body interface{}, timeout time.Duration) (map[string]interface{}, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return do(client, req)
}

func rawDelete(ctx context.Context, client *http.Client, baseURL, path string, timeout time.Duration) (map[string]interface{}, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodDelete, baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return do(client, req)
}

func do(client *http.Client, req *http.Request) (map[string]interface{}, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return map[string]interface{}{}, nil
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decoding WDA response: %w (body: %s)", err, string(data))
	}

	if value, ok := result["value"].(map[string]interface{}); ok {
		if errMsg, ok := value["error"].(string); ok {
			message := errMsg
			if msg, ok := value["message"].(string); ok {
				message = msg
			}
			return result, fmt.Errorf("WDA error: %s", message)
		}
	}

	return result, nil
}

// isTimeout reports whether err represents a context-deadline / timeout
// failure rather than some other transport error.
func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
