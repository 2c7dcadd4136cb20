package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
)

// client is a thin resty wrapper. GETs are retried with exponential
// backoff; POSTs are sent once.
type client struct {
	http    *resty.Client
	retries uint64
	backoff func() backoff.BackOff
}

func newAPIClient(baseURL string, timeout time.Duration, retries uint64) *client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)
	return &client{
		http:    c,
		retries: retries,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
}

type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string { return fmt.Sprintf("http %d: %s", e.status, e.body) }

func (c *client) get(ctx context.Context, path string, query map[string]string) ([]byte, error) {
	var body []byte
	op := func() error {
		resp, err := c.http.R().SetContext(ctx).SetQueryParams(query).Get(path)
		if err != nil {
			return err
		}
		if resp.IsError() {
			herr := &httpError{status: resp.StatusCode(), body: strings.TrimSpace(resp.String())}
			if resp.StatusCode() < 500 {
				return backoff.Permanent(herr)
			}
			return herr
		}
		body = resp.Body()
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(c.backoff(), c.retries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *client) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(path)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, &httpError{status: resp.StatusCode(), body: strings.TrimSpace(resp.String())}
	}
	return resp.Body(), nil
}
