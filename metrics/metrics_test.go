package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetricsExposition(t *testing.T) {
	m := New()
	m.ObserveRequest("resolve_ip", "success")
	m.ObserveRequest("resolve_ip", "success")
	m.ObserveRequest("flush", "error")
	m.ObserveRefresh(3, nil)
	m.ObserveRefresh(3, errors.New("gone"))

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("can't scrape metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("can't read metrics: %v", err)
	}

	for _, want := range []string{
		`slnatd_requests_total{command="resolve_ip",status="success"} 2`,
		`slnatd_requests_total{command="other",status="error"} 1`,
		`slnatd_refreshes_total{result="success"} 1`,
		`slnatd_refreshes_total{result="failure"} 1`,
		`slnatd_mapping_rules 3`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output lacks %q:\n%s", want, body)
		}
	}
}
