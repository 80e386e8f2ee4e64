package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sitealert/internal/permanent"
)

const defaultHTTPTimeout = 10 * time.Second

func newHTTPClient(timeoutSec int) *http.Client {
	timeout := defaultHTTPTimeout
	if timeoutSec > 0 {
		timeout = time.Duration(timeoutSec) * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// doJSON sends JSON payload and decodes optional JSON response into out.
// Params: client, method, endpoint, headers, payload, optional response target, and error prefix.
// Returns: transport, encoding, or status error.
func doJSON(ctx context.Context, client *http.Client, method, endpoint string, headers map[string]string, payload any, out any, prefix string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return permanent.Mark(fmt.Errorf("encode %s payload: %w", prefix, err))
	}
	request, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return permanent.Mark(fmt.Errorf("build %s request: %w", prefix, err))
	}
	request.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		request.Header.Set(key, value)
	}

	response, err := client.Do(request)
	if err != nil {
		return fmt.Errorf("%s send: %w", prefix, err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		statusErr := unexpectedHTTPStatusError(prefix, response)
		if isPermanentStatus(response.StatusCode) {
			return permanent.WithCode(CodeProviderRejected, statusErr)
		}
		return statusErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, response.Body)
		return nil
	}
	raw, err := io.ReadAll(response.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", prefix, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	// Non-JSON bodies are accepted; only the message id is lost.
	_ = json.Unmarshal(raw, out)
	return nil
}

// isPermanentStatus reports client errors that retrying cannot fix.
func isPermanentStatus(status int) bool {
	return status >= 400 && status < 500 && status != http.StatusTooManyRequests && status != http.StatusRequestTimeout
}

// unexpectedHTTPStatusError builds status error with trimmed response body.
// Params: error prefix and HTTP response.
// Returns: formatted error.
func unexpectedHTTPStatusError(prefix string, response *http.Response) error {
	if response == nil {
		return fmt.Errorf("%s status=0", prefix)
	}
	rawBody, readErr := io.ReadAll(io.LimitReader(response.Body, 4096))
	if readErr != nil {
		return fmt.Errorf("%s status=%d (read body error: %w)", prefix, response.StatusCode, readErr)
	}
	trimmedBody := strings.TrimSpace(string(rawBody))
	if trimmedBody == "" {
		return fmt.Errorf("%s status=%d", prefix, response.StatusCode)
	}
	return fmt.Errorf("%s status=%d body=%s", prefix, response.StatusCode, trimmedBody)
}

// firstNonEmpty returns first value that is not blank.
func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
