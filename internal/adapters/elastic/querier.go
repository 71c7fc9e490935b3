// Package elastic implements ports.WindowQuerier against the job-history
// Elasticsearch indices.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"cdr.dev/slog/v3"
	"github.com/elastic/go-elasticsearch/v8"
	"golang.org/x/xerrors"

	"ospoolreport/internal/domain"
	"ospoolreport/internal/metrics"
	"ospoolreport/internal/retry"
)

type Options struct {
	Addresses []string
	Username  string
	Password  string
	CACert    []byte
	Transport http.RoundTripper

	RawIndex    string
	TotalsIndex string
	// Timeout bounds one search request.
	Timeout time.Duration
	Pool    Pool

	Retry   retry.Policy
	Metrics *metrics.Metrics
}

type Querier struct {
	es   *elasticsearch.Client
	opts Options
	log  slog.Logger
}

func New(opts Options, log slog.Logger) (*Querier, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: opts.Addresses,
		Username:  opts.Username,
		Password:  opts.Password,
		CACert:    opts.CACert,
		Transport: opts.Transport,
		// Retries are driven by opts.Retry so they share the run's backoff.
		DisableRetry: true,
	})
	if err != nil {
		return nil, xerrors.Errorf("create elasticsearch client: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 180 * time.Second
	}
	return &Querier{es: es, opts: opts, log: log}, nil
}

func (q *Querier) QuerySums(ctx context.Context, w domain.TimeWindow) (domain.Sums, error) {
	body, err := q.search(ctx, "sums", q.opts.TotalsIndex, SumsQuery(w))
	if err != nil {
		return domain.Sums{}, err
	}
	return ParseSums(body)
}

func (q *Querier) QueryBuckets(ctx context.Context, w domain.TimeWindow) (domain.WindowBuckets, error) {
	body, err := q.search(ctx, "buckets", q.opts.RawIndex, BucketsQuery(w, q.opts.Pool))
	if err != nil {
		return domain.WindowBuckets{}, err
	}
	return ParseBuckets(body)
}

// search runs query against index under the retry policy and returns the raw
// response body.
func (q *Querier) search(ctx context.Context, name, index string, query map[string]any) ([]byte, error) {
	payload, err := json.Marshal(query)
	if err != nil {
		return nil, xerrors.Errorf("encode %s query: %w", name, err)
	}

	start := time.Now()
	var body []byte
	attempt := 0
	err = q.opts.Retry.Do(ctx, func(ctx context.Context) error {
		attempt++
		ctx, cancel := context.WithTimeout(ctx, q.opts.Timeout)
		defer cancel()

		res, err := q.es.Search(
			q.es.Search.WithContext(ctx),
			q.es.Search.WithIndex(index),
			q.es.Search.WithBody(bytes.NewReader(payload)),
		)
		if err != nil {
			q.log.Warn(ctx, "search failed", slog.F("query", name), slog.F("attempt", attempt), slog.Error(err))
			return retry.Retryable(xerrors.Errorf("search %s: %w", index, err))
		}
		defer res.Body.Close()

		data, err := io.ReadAll(res.Body)
		if err != nil {
			return retry.Retryable(xerrors.Errorf("read %s response: %w", index, err))
		}
		if res.IsError() {
			err := xerrors.Errorf("search %s: %s: %s", index, res.Status(), errorReason(data))
			q.log.Warn(ctx, "search rejected", slog.F("query", name), slog.F("attempt", attempt), slog.Error(err))
			if res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500 {
				return retry.Retryable(err)
			}
			return err
		}
		body = data
		return nil
	})
	q.opts.Metrics.ObserveQuery(name, time.Since(start), err)
	if err != nil {
		return nil, xerrors.Errorf("%s query: %w", name, err)
	}
	return body, nil
}
