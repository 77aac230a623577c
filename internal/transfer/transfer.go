// Package transfer sends file bytes to a pre-authorized storage destination.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"strings"
)

// Transferer performs one logical upload of a file's bytes to an authorized URL.
// It never retries.
type Transferer interface {
	Transfer(ctx context.Context, url string, body io.Reader, size int64) error
}

// ErrLocalFile marks a failure to read the local source file. It is never retriable.
var ErrLocalFile = errors.New("local file unavailable")

// TransferError reports a failed PUT for one file
type TransferError struct {
	Key        string
	StatusCode int
	Err        error
}

func (e *TransferError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transfer of %q failed with status %d: %v", e.Key, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transfer of %q failed: %v", e.Key, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// HTTPClient PUTs bytes to presigned URLs
type HTTPClient struct {
	httpClient *http.Client
}

// NewHTTPClient creates a transfer client. A nil httpClient uses http.DefaultClient.
func NewHTTPClient(httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{httpClient: httpClient}
}

// Transfer implements Transferer
func (c *HTTPClient) Transfer(ctx context.Context, url string, body io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, body)
	if err != nil {
		return err
	}
	req.ContentLength = size
	if size == 0 {
		req.Body = http.NoBody
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &TransferError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("storage responded with %s: %s", resp.Status, strings.TrimSpace(string(msg))),
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// IsRetriable reports whether a failed transfer or authorization may succeed on another attempt:
// network failures, throttling and 5xx responses
func IsRetriable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrLocalFile) {
		return false
	}

	var te *TransferError
	if errors.As(err, &te) && te.StatusCode != 0 {
		return te.StatusCode == http.StatusTooManyRequests || te.StatusCode >= 500
	}

	var coded interface{ HTTPStatus() int }
	if errors.As(err, &coded) && coded.HTTPStatus() != 0 {
		code := coded.HTTPStatus()
		return code == http.StatusTooManyRequests || code >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return false
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "temporary") ||
		strings.Contains(errStr, "eof")
}
