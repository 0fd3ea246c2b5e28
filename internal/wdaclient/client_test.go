package wdaclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// staticResolver always resolves udid to the same base URL — a fake WDA
// backend for these tests never needs port-forward bookkeeping.
type staticResolver struct {
	baseURL string
}

func (r staticResolver) Resolve(ctx context.Context, udid string) (string, *Forward, error) {
	return r.baseURL, nil, nil
}

// fakeRestarter records how many times the hung-driver recovery path invoked
// Start, without actually touching anything.
type fakeRestarter struct {
	started int64
}

func (f *fakeRestarter) Start(ctx context.Context, udid, osVersion string) error {
	atomic.AddInt64(&f.started, 1)
	return nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(baseURL string, restarter Restarter, cfg Config) *Client {
	return New(staticResolver{baseURL: baseURL}, restarter, cfg)
}

// TestDescribeAllHappyPath covers the fast path: one session, one settings
// push, one /source fetch, flattened into the expected element count.
func TestDescribeAllHappyPath(t *testing.T) {
	var sessionPosts, settingsPosts int64

	mux := http.NewServeMux()
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&sessionPosts, 1)
		writeJSON(w, map[string]interface{}{"value": map[string]interface{}{"sessionId": "sess-1"}})
	})
	mux.HandleFunc("/session/sess-1/appium/settings", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&settingsPosts, 1)
		writeJSON(w, map[string]interface{}{"value": nil})
	})
	mux.HandleFunc("/session/sess-1/source", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"value": map[string]interface{}{
				"type":  "XCUIElementTypeApplication",
				"name":  "MyApp",
				"label": "MyApp",
				"children": []interface{}{
					map[string]interface{}{"type": "XCUIElementTypeButton", "name": "Login", "label": "Login", "rawIdentifier": "loginBtn"},
				},
			},
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestClient(server.URL, nil, Config{
		DefaultTimeout:    2 * time.Second,
		SourceSoftTimeout: 2 * time.Second,
		StatusPingTimeout: 2 * time.Second,
	})

	elements, err := c.DescribeAll(context.Background(), "udid-1", 0)
	if err != nil {
		t.Fatalf("DescribeAll: %v", err)
	}
	if len(elements) != 2 {
		t.Fatalf("got %d elements, want 2", len(elements))
	}
	if got := atomic.LoadInt64(&sessionPosts); got != 1 {
		t.Fatalf("POST /session called %d times, want 1", got)
	}
	if got := atomic.LoadInt64(&settingsPosts); got != 1 {
		t.Fatalf("POST .../appium/settings called %d times, want 1", got)
	}
}

// TestDescribeAllParallelCallersShareOneSession is the regression test for
// the resolveConnection race: N concurrent first-callers for a UDID with no
// cached connection must still only create one WDA session.
func TestDescribeAllParallelCallersShareOneSession(t *testing.T) {
	var sessionPosts int64

	mux := http.NewServeMux()
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&sessionPosts, 1)
		time.Sleep(20 * time.Millisecond) // widen the race window
		writeJSON(w, map[string]interface{}{"value": map[string]interface{}{"sessionId": "sess-1"}})
	})
	mux.HandleFunc("/session/sess-1/appium/settings", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"value": nil})
	})
	mux.HandleFunc("/session/sess-1/source", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"value": map[string]interface{}{"type": "XCUIElementTypeApplication", "name": "MyApp", "label": "MyApp"},
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestClient(server.URL, nil, Config{
		DefaultTimeout:    2 * time.Second,
		SourceSoftTimeout: 2 * time.Second,
		StatusPingTimeout: 2 * time.Second,
	})

	const n = 4
	results := make([][]int, n) // len(elements) per call, just to check consistency
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			elements, err := c.DescribeAll(context.Background(), "udid-race", 0)
			errs[i] = err
			results[i] = []int{len(elements)}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("call %d: DescribeAll: %v", i, err)
		}
	}
	if got := atomic.LoadInt64(&sessionPosts); got != 1 {
		t.Fatalf("POST /session called %d times across %d concurrent first-callers, want 1", got, n)
	}
	for i := 1; i < n; i++ {
		if results[i][0] != results[0][0] {
			t.Fatalf("call %d returned %d elements, call 0 returned %d", i, results[i][0], results[0][0])
		}
	}
}

// TestClearTextTriesHintedClassFirst covers §4.2.4's element_type hint: the
// caller's hinted class must be tried before the default priority order.
func TestClearTextTriesHintedClassFirst(t *testing.T) {
	var mu sync.Mutex
	var triedClasses []string

	mux := http.NewServeMux()
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"value": map[string]interface{}{"sessionId": "sess-1"}})
	})
	mux.HandleFunc("/session/sess-1/appium/settings", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"value": nil})
	})
	mux.HandleFunc("/session/sess-1/element", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		class, _ := body["value"].(string)

		mu.Lock()
		triedClasses = append(triedClasses, class)
		mu.Unlock()

		if class == "XCUIElementTypeSecureTextField" {
			writeJSON(w, map[string]interface{}{"value": map[string]interface{}{"ELEMENT": "el-1"}})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/session/sess-1/element/el-1/clear", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"value": nil})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestClient(server.URL, nil, Config{
		DefaultTimeout:    2 * time.Second,
		SourceSoftTimeout: 2 * time.Second,
		StatusPingTimeout: 2 * time.Second,
	})

	if err := c.ClearText(context.Background(), "udid-1", 10, 20, "SecureTextField"); err != nil {
		t.Fatalf("ClearText: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(triedClasses) == 0 || triedClasses[0] != "XCUIElementTypeSecureTextField" {
		t.Fatalf("expected the hinted class tried first, got order %v", triedClasses)
	}
}

// TestDescribeAllAppliesDepthOverrideOnlyWhenChanged covers invariant 3: a
// snapshot_depth override posts settings once, and repeating the same depth
// must not post again.
func TestDescribeAllAppliesDepthOverrideOnlyWhenChanged(t *testing.T) {
	var mu sync.Mutex
	var settingsDepths []int

	mux := http.NewServeMux()
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"value": map[string]interface{}{"sessionId": "sess-1"}})
	})
	mux.HandleFunc("/session/sess-1/appium/settings", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		settings, _ := body["settings"].(map[string]interface{})
		depth, _ := settings["snapshotMaxDepth"].(float64)

		mu.Lock()
		settingsDepths = append(settingsDepths, int(depth))
		mu.Unlock()

		writeJSON(w, map[string]interface{}{"value": nil})
	})
	mux.HandleFunc("/session/sess-1/source", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"value": map[string]interface{}{"type": "XCUIElementTypeApplication", "name": "A", "label": "A"}})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestClient(server.URL, nil, Config{
		DefaultTimeout:    2 * time.Second,
		SourceSoftTimeout: 2 * time.Second,
		StatusPingTimeout: 2 * time.Second,
	})

	if _, err := c.DescribeAll(context.Background(), "udid-1", 0); err != nil {
		t.Fatalf("first DescribeAll: %v", err)
	}
	if _, err := c.DescribeAll(context.Background(), "udid-1", 25); err != nil {
		t.Fatalf("second DescribeAll with depth override: %v", err)
	}
	if _, err := c.DescribeAll(context.Background(), "udid-1", 25); err != nil {
		t.Fatalf("third DescribeAll with the same depth: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	// Session creation posts settings once at the default depth (10), the
	// depth=25 override posts once more, and the repeated depth=25 call
	// must not post again.
	if len(settingsDepths) != 2 {
		t.Fatalf("settings posted %d times, want 2 (session-create default + one depth change): %v", len(settingsDepths), settingsDepths)
	}
	if settingsDepths[0] != 10 || settingsDepths[1] != 25 {
		t.Fatalf("unexpected settings depth sequence: %v", settingsDepths)
	}
}

// TestDescribeAllSkeletonFallbackOnSoftTimeout covers the soft-timeout path:
// a /source fetch that outlasts SourceSoftTimeout falls back to the skeleton
// engine instead of surfacing a timeout error, while the driver itself stays
// responsive (/status answers quickly) so no restart is attempted.
func TestDescribeAllSkeletonFallbackOnSoftTimeout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"value": map[string]interface{}{"sessionId": "sess-1"}})
	})
	mux.HandleFunc("/session/sess-1/appium/settings", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"value": nil})
	})
	mux.HandleFunc("/session/sess-1/source", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond) // longer than SourceSoftTimeout below
		writeJSON(w, map[string]interface{}{"value": map[string]interface{}{"type": "XCUIElementTypeApplication"}})
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"value": map[string]interface{}{"state": "ready"}})
	})
	mux.HandleFunc("/session/sess-1/elements", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["value"] == "**/XCUIElementTypeTabBar" {
			writeJSON(w, map[string]interface{}{"value": []interface{}{
				map[string]interface{}{"ELEMENT": "tab-1", "type": "XCUIElementTypeTabBar", "name": "TabBar", "label": "TabBar", "isEnabled": true},
			}})
			return
		}
		writeJSON(w, map[string]interface{}{"value": []interface{}{}})
	})
	mux.HandleFunc("/session/sess-1/element/tab-1/elements", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["value"] == "XCUIElementTypeButton" {
			writeJSON(w, map[string]interface{}{"value": []interface{}{
				map[string]interface{}{"ELEMENT": "btn-1", "type": "XCUIElementTypeButton", "name": "Home", "label": "Home", "isEnabled": true},
				map[string]interface{}{"ELEMENT": "btn-2", "type": "XCUIElementTypeButton", "name": "Search", "label": "Search", "isEnabled": true},
			}})
			return
		}
		writeJSON(w, map[string]interface{}{"value": []interface{}{}})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestClient(server.URL, nil, Config{
		DefaultTimeout:    2 * time.Second,
		SourceSoftTimeout: 50 * time.Millisecond,
		StatusPingTimeout: 2 * time.Second,
	})

	elements, err := c.DescribeAll(context.Background(), "udid-1", 0)
	if err != nil {
		t.Fatalf("DescribeAll should recover via skeleton fallback, got error: %v", err)
	}
	if len(elements) != 3 {
		t.Fatalf("got %d elements (want 1 container + 2 children), got %#v", len(elements), elements)
	}
	if elements[0].Type != "TabBar" {
		t.Fatalf("expected the container element first, got %s", elements[0].Type)
	}
}

// TestDescribeAllRestartsHungDriverBeforeSkeletonFallback covers the
// unresponsive-driver path: both /source and /status time out, so the
// restarter is invoked before the client falls back to the skeleton engine.
func TestDescribeAllRestartsHungDriverBeforeSkeletonFallback(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"value": map[string]interface{}{"sessionId": "sess-1"}})
	})
	mux.HandleFunc("/session/sess-1/appium/settings", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"value": nil})
	})
	mux.HandleFunc("/session/sess-1/source", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		writeJSON(w, map[string]interface{}{"value": map[string]interface{}{"type": "XCUIElementTypeApplication"}})
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		writeJSON(w, map[string]interface{}{"value": map[string]interface{}{"state": "ready"}})
	})
	mux.HandleFunc("/session/sess-1/elements", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"value": []interface{}{}})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	restarter := &fakeRestarter{}
	c := newTestClient(server.URL, restarter, Config{
		DefaultTimeout:    2 * time.Second,
		SourceSoftTimeout: 50 * time.Millisecond,
		StatusPingTimeout: 50 * time.Millisecond,
	})
	c.RememberOSVersion("udid-1", "17.0")

	elements, err := c.DescribeAll(context.Background(), "udid-1", 0)
	if err != nil {
		t.Fatalf("DescribeAll should recover via skeleton fallback, got error: %v", err)
	}
	if elements == nil {
		t.Fatal("expected a (possibly empty) skeleton result, got nil")
	}
	if got := atomic.LoadInt64(&restarter.started); got != 1 {
		t.Fatalf("restarter.Start called %d times, want 1", got)
	}
}
