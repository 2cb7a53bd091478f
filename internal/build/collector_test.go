package build

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func startCollector(t *testing.T) *collector {
	t.Helper()
	col, err := newCollector()
	if err != nil {
		t.Fatal(err)
	}
	go col.serve()
	t.Cleanup(func() { _ = col.shutdown(context.Background()) })
	return col
}

func post(t *testing.T, col *collector, body string) int {
	t.Helper()
	resp, err := http.Post("http://127.0.0.1:"+col.Port()+"/vuln", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestCollector_LargeRecordKeptWhole(t *testing.T) {
	col := startCollector(t)
	big := `{"crate":"c","message":{"message":"` + strings.Repeat("a", 2<<20) + `","code":{"code":"x"}}}`
	if got := post(t, col, big); got != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", got)
	}
	recs := col.Records()
	if len(recs) != 1 || recs[0] != big {
		t.Errorf("record truncated: len=%d, want %d", len(recs[0]), len(big))
	}
	if col.Dropped() != 0 {
		t.Errorf("Dropped() = %d, want 0", col.Dropped())
	}
}

func TestCollector_OversizeRefusedAndCounted(t *testing.T) {
	col, err := newCollector()
	if err != nil {
		t.Fatal(err)
	}
	defer col.ln.Close()
	w := httptest.NewRecorder()
	col.handle(w, httptest.NewRequest(http.MethodPost, "/vuln", strings.NewReader(strings.Repeat("a", maxRecordBytes+1))))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", w.Code)
	}
	if len(col.Records()) != 0 {
		t.Error("oversize record was stored")
	}
	if col.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", col.Dropped())
	}
}
