package downloader

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestServer(t *testing.T) (*testEnv, *httptest.Server) {
	t.Helper()
	env := newTestEnv(t)
	srv := httptest.NewServer(NewHandler(env.orc, testLogger()).Routes())
	t.Cleanup(srv.Close)
	return env, srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// readEvents consumes an NDJSON stream to EOF.
func readEvents(t *testing.T, resp *http.Response) []Event {
	t.Helper()
	defer resp.Body.Close()
	var events []Event
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var ev Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("bad NDJSON line %q: %v", sc.Text(), err)
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("read stream: %v", err)
	}
	return events
}

func TestHandler_submit_created(t *testing.T) {
	_, srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/downloads", map[string]string{
		"owner_id": "u1",
		"url":      "https://youtube.com/watch?v=a",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var out submitResponse
	decodeJSON(t, resp, &out)
	if out.Token == "" || out.Title != "Test Clip" || out.Platform != PlatformYouTube {
		t.Errorf("response = %+v", out)
	}
}

func TestHandler_submit_validation(t *testing.T) {
	_, srv := newTestServer(t)

	tests := []struct {
		name string
		body map[string]string
		want int
	}{
		{"missing url", map[string]string{"owner_id": "u1"}, http.StatusBadRequest},
		{"missing owner", map[string]string{"url": "https://youtube.com/watch?v=a"}, http.StatusBadRequest},
		{"unsupported platform", map[string]string{"owner_id": "u1", "url": "https://example.com/v"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/downloads", tt.body)
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestHandler_submit_rate_limited(t *testing.T) {
	env, srv := newTestServer(t)
	env.orc.limiter = NewRateLimiter(time.Hour, 1)

	resp := postJSON(t, srv.URL+"/downloads", map[string]string{
		"owner_id": "u1", "url": "https://youtube.com/watch?v=a",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first submit status = %d", resp.StatusCode)
	}

	resp = postJSON(t, srv.URL+"/downloads", map[string]string{
		"owner_id": "u1", "url": "https://youtube.com/watch?v=b",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", resp.StatusCode)
	}
}

func TestHandler_renditions_unknown_token(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/downloads/no-such-token/renditions")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusGone {
		t.Errorf("status = %d, want 410", resp.StatusCode)
	}
}

func TestHandler_select_streams_to_completion(t *testing.T) {
	env, srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/downloads", map[string]string{
		"owner_id": "u1", "url": "https://youtube.com/watch?v=a",
	})
	var sub submitResponse
	decodeJSON(t, resp, &sub)

	resp, err := http.Get(fmt.Sprintf("%s/downloads/%s/renditions", srv.URL, sub.Token))
	if err != nil {
		t.Fatalf("GET renditions: %v", err)
	}
	var renditions []Rendition
	decodeJSON(t, resp, &renditions)
	if len(renditions) == 0 {
		t.Fatal("no renditions returned")
	}

	resp = postJSON(t, fmt.Sprintf("%s/downloads/%s/select", srv.URL, sub.Token), map[string]string{
		"owner_id": "u1", "format_id": renditions[0].FormatID,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("select status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != ndjsonContentType {
		t.Errorf("content type = %s, want %s", ct, ndjsonContentType)
	}
	events := readEvents(t, resp)
	if len(events) == 0 {
		t.Fatal("empty event stream")
	}
	if last := events[len(events)-1]; last.Status != StatusCompleted {
		t.Errorf("terminal event = %+v, want Completed", last)
	}
	if files := env.deliver.deliveredFiles(); len(files) != 1 {
		t.Errorf("delivered %d files, want 1", len(files))
	}
}

func TestHandler_fallback_flow_over_http(t *testing.T) {
	env, srv := newTestServer(t)
	env.ext.fetchSize = DefaultVideoLimitBytes + 1
	env.ext.link = "https://cdn/direct"

	resp := postJSON(t, srv.URL+"/downloads", map[string]string{
		"owner_id": "u1", "url": "https://youtube.com/watch?v=a",
	})
	var sub submitResponse
	decodeJSON(t, resp, &sub)

	resp = postJSON(t, fmt.Sprintf("%s/downloads/%s/select", srv.URL, sub.Token), map[string]string{
		"owner_id": "u1", "format_id": "137",
	})
	events := readEvents(t, resp)
	if last := events[len(events)-1]; last.Kind != EventChoice {
		t.Fatalf("expected awaiting_choice event, got %+v", last)
	}

	resp = postJSON(t, fmt.Sprintf("%s/downloads/%s/fallback", srv.URL, sub.Token), map[string]string{
		"owner_id": "u1", "choice": "link",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fallback status = %d", resp.StatusCode)
	}
	events = readEvents(t, resp)
	sawLink := false
	for _, ev := range events {
		if ev.Kind == EventLink && ev.URL == "https://cdn/direct" {
			sawLink = true
		}
	}
	if !sawLink {
		t.Errorf("no link event in stream: %+v", events)
	}
	if last := events[len(events)-1]; last.Status != StatusCompleted {
		t.Errorf("terminal event = %+v, want Completed", last)
	}
}

func TestHandler_fallback_validation(t *testing.T) {
	_, srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/downloads", map[string]string{
		"owner_id": "u1", "url": "https://youtube.com/watch?v=a",
	})
	var sub submitResponse
	decodeJSON(t, resp, &sub)

	resp = postJSON(t, fmt.Sprintf("%s/downloads/%s/fallback", srv.URL, sub.Token), map[string]string{
		"owner_id": "u1", "choice": "teleport",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad choice status = %d, want 400", resp.StatusCode)
	}

	resp = postJSON(t, fmt.Sprintf("%s/downloads/%s/fallback", srv.URL, sub.Token), map[string]string{
		"owner_id": "u1", "choice": "split",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("no pending choice status = %d, want 409", resp.StatusCode)
	}
}

func TestHandler_cancel_always_acknowledged(t *testing.T) {
	_, srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/downloads/no-such-token/cancel", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	var out map[string]string
	decodeJSON(t, resp, &out)
	if out["status"] != "cancelled" {
		t.Errorf("body = %v", out)
	}
}

func TestHandler_history_endpoints(t *testing.T) {
	env, srv := newTestServer(t)

	// Complete one download so history has an entry.
	resp := postJSON(t, srv.URL+"/downloads", map[string]string{
		"owner_id": "u1", "url": "https://youtube.com/watch?v=a",
	})
	var sub submitResponse
	decodeJSON(t, resp, &sub)
	resp = postJSON(t, fmt.Sprintf("%s/downloads/%s/select", srv.URL, sub.Token), map[string]string{
		"owner_id": "u1", "format_id": "137",
	})
	readEvents(t, resp)

	resp, err := http.Get(srv.URL + "/history/u1/")
	if err != nil {
		t.Fatalf("GET history: %v", err)
	}
	var entries []HistoryEntry
	decodeJSON(t, resp, &entries)
	if len(entries) != 1 || entries[0].Platform != PlatformYouTube {
		t.Fatalf("history = %+v, want one youtube entry", entries)
	}

	resp, err = http.Get(srv.URL + "/history/u1/stats")
	if err != nil {
		t.Fatalf("GET stats: %v", err)
	}
	var stats statsResponse
	decodeJSON(t, resp, &stats)
	if stats.TotalDownloads != 1 || stats.PerPlatform[PlatformYouTube] != 1 {
		t.Errorf("stats = %+v", stats)
	}

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/history/u1/", nil)
	if err != nil {
		t.Fatalf("build DELETE: %v", err)
	}
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE history: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("clear status = %d", resp.StatusCode)
	}
	if n := env.historyCount(t, "u1"); n != 0 {
		t.Errorf("history count after clear = %d, want 0", n)
	}
}

func TestHandler_history_limit_validation(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/history/u1/?limit=banana")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
