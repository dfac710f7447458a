package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mbruckner/depotsync/internal/common"
	"github.com/mbruckner/depotsync/internal/interfaces"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	client := NewClient("test-key",
		WithBaseURL(server.URL),
		WithLookupURL(server.URL),
		WithRateLimit(1000),
		WithLogger(common.NewSilentLogger()),
	)
	return client, server
}

func TestGetEOD(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v8/history/SAP.DE" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("interval") != "1d" || q.Get("from") != "2024-03-01" || q.Get("to") != "2024-03-10" {
			t.Errorf("query = %v", q)
		}
		w.Write([]byte(`{
			"currency": "EUR",
			"quotes": [
				{"date": "2024-03-01", "close": 178.5},
				{"date": "2024-03-04", "close": 0},
				{"date": "not-a-date", "close": 180},
				{"date": "2024-03-05", "close": 181.2}
			]
		}`))
	})
	defer server.Close()

	points, err := client.GetEOD(context.Background(), "SAP.DE",
		interfaces.WithDateRange(
			time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		),
	)
	if err != nil {
		t.Fatalf("GetEOD failed: %v", err)
	}
	// The zero close and the bad date are dropped.
	if len(points) != 2 {
		t.Fatalf("points = %d, want 2", len(points))
	}
	if points[0].Close != 178.5 || points[0].Currency != "EUR" {
		t.Errorf("point = %+v", points[0])
	}
}

func TestGetEOD_APIError(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	})
	defer server.Close()

	_, err := client.GetEOD(context.Background(), "SAP.DE")
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if !common.IsTransient(err) {
		t.Error("429 should be transient")
	}
}

func TestLookupSymbol(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v3/mapping" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("X-OPENFIGI-APIKEY"); got != "test-key" {
			t.Errorf("api key header = %q", got)
		}
		var jobs []mappingJob
		if err := json.NewDecoder(r.Body).Decode(&jobs); err != nil {
			t.Errorf("decode jobs: %v", err)
		}
		if len(jobs) != 1 || jobs[0].IDType != "ID_ISIN" || jobs[0].IDValue != "DE0007164600" {
			t.Errorf("jobs = %+v", jobs)
		}
		w.Write([]byte(`[{
			"data": [
				{"ticker": "SAP", "exchCode": "XX", "currency": "EUR"},
				{"ticker": "SAP", "exchCode": "GY", "currency": "EUR"}
			]
		}]`))
	})
	defer server.Close()

	res, err := client.LookupSymbol(context.Background(), "DE0007164600")
	if err != nil {
		t.Fatalf("LookupSymbol failed: %v", err)
	}
	// The unknown exchange XX is skipped in favor of the Xetra listing.
	if res.Symbol != "SAP.DE" || res.Currency != "EUR" {
		t.Errorf("resolution = %+v", res)
	}
}

func TestLookupSymbol_USListingNoSuffix(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"data": [{"ticker": "AAPL", "exchCode": "US", "currency": "USD"}]}]`))
	})
	defer server.Close()

	res, err := client.LookupSymbol(context.Background(), "US0378331005")
	if err != nil {
		t.Fatalf("LookupSymbol failed: %v", err)
	}
	if res.Symbol != "AAPL" {
		t.Errorf("symbol = %q, want AAPL", res.Symbol)
	}
}

func TestLookupSymbol_NoListings(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"data": []}]`))
	})
	defer server.Close()

	_, err := client.LookupSymbol(context.Background(), "XF000BTC0017")
	var lookupErr *common.LookupError
	if !errors.As(err, &lookupErr) {
		t.Fatalf("err = %v, want LookupError", err)
	}
	if common.IsTransient(err) {
		t.Error("lookup failures are permanent, not transient")
	}
}

func TestLookupSymbol_NoSupportedExchange(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"data": [{"ticker": "FOO", "exchCode": "ZZ", "currency": "EUR"}]}]`))
	})
	defer server.Close()

	_, err := client.LookupSymbol(context.Background(), "DE000TEST001")
	var lookupErr *common.LookupError
	if !errors.As(err, &lookupErr) {
		t.Fatalf("err = %v, want LookupError", err)
	}
}

func TestGetFXRates(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v8/fx/EURUSD" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{
			"rates": [
				{"date": "2024-03-01", "rate": 1.0835},
				{"date": "2024-03-02", "rate": 0}
			]
		}`))
	})
	defer server.Close()

	rates, err := client.GetFXRates(context.Background(), "EURUSD",
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
	)
	if err != nil {
		t.Fatalf("GetFXRates failed: %v", err)
	}
	if len(rates) != 1 {
		t.Fatalf("rates = %v, want the zero rate dropped", rates)
	}
	if rates["2024-03-01"] != 1.0835 {
		t.Errorf("rate = %v, want 1.0835", rates["2024-03-01"])
	}
}
