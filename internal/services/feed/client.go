package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// ArrivalDateLayout is the DD-MM-YYYY date format used by the upstream feed,
// both in the filters[arrival_date] query parameter and in record payloads.
const ArrivalDateLayout = "02-01-2006"

// RawRecord is one untyped feed record. Everything arrives as a string; the
// normalizer is the only component allowed to look past this boundary.
type RawRecord struct {
	State       string `json:"state"`
	District    string `json:"district"`
	Market      string `json:"market"`
	Commodity   string `json:"commodity"`
	Variety     string `json:"variety"`
	Grade       string `json:"grade"`
	ArrivalDate string `json:"arrival_date"`
	MinPrice    string `json:"min_price"`
	MaxPrice    string `json:"max_price"`
	ModalPrice  string `json:"modal_price"`
}

type feedEnvelope struct {
	Records []RawRecord `json:"records"`
	Total   int         `json:"total"`
	Count   int         `json:"count"`
}

// Client fetches paginated commodity price records from the data.gov.in
// resource endpoint. Page requests are paced by a rate limiter and retried
// with linear backoff before a page is given up on.
type Client struct {
	baseURL  string
	apiKey   string
	pageSize int
	http     *resty.Client
	limiter  *rate.Limiter
}

func NewClient(baseURL, apiKey string, pageSize int) *Client {
	if pageSize <= 0 {
		pageSize = 1000
	}

	client := resty.New()
	client.SetTimeout(30 * time.Second)
	client.SetRetryCount(3)
	client.SetRetryWaitTime(2 * time.Second)
	client.SetRetryMaxWaitTime(10 * time.Second)
	// Transport errors aside, upstream rate limiting and server errors are
	// transient too and spend the same retry budget.
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		return err != nil ||
			r.StatusCode() == http.StatusTooManyRequests ||
			r.StatusCode() >= http.StatusInternalServerError
	})

	return &Client{
		baseURL:  baseURL,
		apiKey:   apiKey,
		pageSize: pageSize,
		http:     client,
		// One page per second keeps us well inside the upstream rate limit.
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Pages returns a lazy page iterator for the given arrival-date filter
// (DD-MM-YYYY, empty for no filter). No request is made until Next is called,
// so a caller deciding to abandon a day never fetches further pages.
func (c *Client) Pages(ctx context.Context, dateFilter string) *PageIter {
	return &PageIter{client: c, ctx: ctx, dateFilter: dateFilter}
}

// PageIter walks the feed one page at a time. Pagination ends when the feed
// returns an empty records array.
type PageIter struct {
	client     *Client
	ctx        context.Context
	dateFilter string
	offset     int
	done       bool
}

// Next fetches the next page. It returns a nil slice once pagination is
// exhausted, and an error if the page request fails after all retries.
func (it *PageIter) Next() ([]RawRecord, error) {
	if it.done {
		return nil, nil
	}

	if err := it.client.limiter.Wait(it.ctx); err != nil {
		return nil, err
	}

	params := map[string]string{
		"api-key": it.client.apiKey,
		"format":  "json",
		"limit":   strconv.Itoa(it.client.pageSize),
		"offset":  strconv.Itoa(it.offset),
	}
	if it.dateFilter != "" {
		params["filters[arrival_date]"] = it.dateFilter
	}

	resp, err := it.client.http.R().
		SetContext(it.ctx).
		SetQueryParams(params).
		Get(it.client.baseURL)
	if err != nil {
		return nil, fmt.Errorf("feed request failed at offset %d: %w", it.offset, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("feed returned status %d at offset %d", resp.StatusCode(), it.offset)
	}

	var envelope feedEnvelope
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode feed response at offset %d: %w", it.offset, err)
	}

	if len(envelope.Records) == 0 {
		it.done = true
		return nil, nil
	}

	it.offset += it.client.pageSize
	return envelope.Records, nil
}

// FetchDay collects every page for one arrival date. If the very first page
// fails the error is propagated; if a later page fails after some records were
// already collected, the partial result is returned instead of discarded.
func (c *Client) FetchDay(ctx context.Context, dateFilter string) ([]RawRecord, error) {
	var all []RawRecord

	pages := c.Pages(ctx, dateFilter)
	for {
		records, err := pages.Next()
		if err != nil {
			if len(all) == 0 {
				return nil, err
			}
			log.Printf("[Feed Client] Page failed after %d records for %s, keeping partial data: %v",
				len(all), dateFilter, err)
			return all, nil
		}
		if records == nil {
			break
		}
		all = append(all, records...)
	}

	return all, nil
}
