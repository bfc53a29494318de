package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 4 << 20

// postJSON sends payload to url and decodes a 2xx response into out. Non-2xx
// statuses and transport errors come back as *Failure.
func postJSON(ctx context.Context, hc *http.Client, url string, headers map[string]string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := hc.Do(httpReq)
	if err != nil {
		return transportFailure(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return transportFailure(ctx, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Failure{
			Class:      StatusClass(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &Failure{
			Class:   ClassOther,
			Message: fmt.Sprintf("decode response: %v (raw: %s)", err, truncate(string(respBody), 200)),
			Err:     err,
		}
	}
	return nil
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: DefaultTimeout + DefaultTimeout/2}
}
