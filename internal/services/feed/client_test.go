package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func testClient(baseURL string, pageSize int) *Client {
	c := NewClient(baseURL, "test-key", pageSize)
	c.limiter = rate.NewLimiter(rate.Inf, 1) // no pacing in tests
	c.http.SetRetryCount(0)
	return c
}

func pageHandler(t *testing.T, records []RawRecord, failOffsets map[int]bool) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("api-key"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))

		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		if failOffsets[offset] {
			w.WriteHeader(http.StatusBadGateway)
			return
		}

		page := []RawRecord{}
		if offset < len(records) {
			end := offset + limit
			if end > len(records) {
				end = len(records)
			}
			page = records[offset:end]
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"records": page})
	}
}

func someRecords(n int) []RawRecord {
	records := make([]RawRecord, n)
	for i := range records {
		records[i] = RawRecord{Commodity: "Wheat", Market: "Khanna", ModalPrice: "2000"}
	}
	return records
}

func TestFetchDayPaginatesUntilEmpty(t *testing.T) {
	srv := httptest.NewServer(pageHandler(t, someRecords(5), nil))
	defer srv.Close()

	records, err := testClient(srv.URL, 2).FetchDay(context.Background(), "15-08-2026")
	require.NoError(t, err)
	assert.Len(t, records, 5)
}

func TestFetchDaySendsDateFilter(t *testing.T) {
	var sawFilter atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("filters[arrival_date]") == "15-08-2026" {
			sawFilter.Store(true)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"records": []RawRecord{}})
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, 100).FetchDay(context.Background(), "15-08-2026")
	require.NoError(t, err)
	assert.True(t, sawFilter.Load())
}

func TestFetchDayFirstPageFailureFailsLoudly(t *testing.T) {
	srv := httptest.NewServer(pageHandler(t, someRecords(5), map[int]bool{0: true}))
	defer srv.Close()

	records, err := testClient(srv.URL, 2).FetchDay(context.Background(), "")
	assert.Error(t, err)
	assert.Nil(t, records)
}

func TestFetchDayLaterPageFailureReturnsPartialData(t *testing.T) {
	srv := httptest.NewServer(pageHandler(t, someRecords(6), map[int]bool{4: true}))
	defer srv.Close()

	records, err := testClient(srv.URL, 2).FetchDay(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, records, 4)
}

func TestPageIterStopsAfterExhaustion(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"records": []RawRecord{}})
	}))
	defer srv.Close()

	iter := testClient(srv.URL, 2).Pages(context.Background(), "")

	page, err := iter.Next()
	require.NoError(t, err)
	assert.Nil(t, page)

	// Exhausted iterators answer from memory instead of re-requesting.
	page, err = iter.Next()
	require.NoError(t, err)
	assert.Nil(t, page)
	assert.Equal(t, int32(1), requests.Load())
}

func TestPageIterAbandonStopsFetching(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"records": someRecords(2),
		})
	}))
	defer srv.Close()

	iter := testClient(srv.URL, 2).Pages(context.Background(), "")
	_, err := iter.Next()
	require.NoError(t, err)

	// The caller walks away after one page; the iterator is lazy, so exactly
	// one request was made.
	assert.Equal(t, int32(1), requests.Load())
}

func TestFetchDayRetriesRateLimitedPage(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// First two attempts are rate limited, then the page is served.
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		page := []RawRecord{}
		if offset, _ := strconv.Atoi(r.URL.Query().Get("offset")); offset == 0 {
			page = someRecords(1)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"records": page})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", 2)
	c.limiter = rate.NewLimiter(rate.Inf, 1)
	c.http.SetRetryWaitTime(time.Millisecond)
	c.http.SetRetryMaxWaitTime(5 * time.Millisecond)

	records, err := c.FetchDay(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.GreaterOrEqual(t, attempts.Load(), int32(3))
}

func TestFetchDayRetriesServerErrorPage(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"records": []RawRecord{}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", 2)
	c.limiter = rate.NewLimiter(rate.Inf, 1)
	c.http.SetRetryWaitTime(time.Millisecond)
	c.http.SetRetryMaxWaitTime(5 * time.Millisecond)

	records, err := c.FetchDay(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestFetchDayDecodeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>rate limited</html>"))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, 2).FetchDay(context.Background(), "")
	assert.Error(t, err)
}
