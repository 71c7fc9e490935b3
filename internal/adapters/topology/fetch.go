package topology

import (
	"context"
	"io"
	"net/http"

	"golang.org/x/xerrors"

	"ospoolreport/internal/retry"
)

// maxDocumentSize bounds a single reference document.
const maxDocumentSize = 64 << 20

type fetcher struct {
	client *http.Client
	policy retry.Policy
}

// get downloads url. Network errors, 429 and 5xx responses are retried under
// the policy; other statuses fail at once.
func (f fetcher) get(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := f.policy.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return xerrors.Errorf("build request: %w", err)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return retry.Retryable(xerrors.Errorf("get %s: %w", url, err))
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := xerrors.Errorf("get %s: unexpected status %s", url, resp.Status)
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return retry.Retryable(err)
			}
			return err
		}
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
		if err != nil {
			return retry.Retryable(xerrors.Errorf("read %s: %w", url, err))
		}
		return nil
	})
	return body, err
}
