package skeleton

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeQuerier returns canned results per (using, value, scope) tuple. Calls
// are recorded under a mutex since phase 1 and phase 2 both fan out
// concurrently across goroutines.
type fakeQuerier struct {
	mu      sync.Mutex
	calls   []call
	results map[string][]map[string]interface{}
}

type call struct {
	using, value, scope string
}

func key(using, value, scope string) string { return using + "|" + value + "|" + scope }

func (f *fakeQuerier) FindElementsByQuery(ctx context.Context, udid, using, value, scope string, timeout time.Duration) []map[string]interface{} {
	f.mu.Lock()
	f.calls = append(f.calls, call{using, value, scope})
	f.mu.Unlock()
	return f.results[key(using, value, scope)]
}

// TestBuildOrdersContainersBeforeChildrenAndDedupes covers spec.md's S2
// ordering contract (containers first, then deduped children) and the
// dedup-by-element-ref rule: btn-1 surfaces from both the button and the
// "other" child query but must appear only once in the output.
func TestBuildOrdersContainersBeforeChildrenAndDedupes(t *testing.T) {
	q := &fakeQuerier{results: map[string][]map[string]interface{}{
		key("class chain", "**/XCUIElementTypeTabBar", ""): {
			{elementRefKey: "tab-1", "type": "XCUIElementTypeTabBar", "label": "TabBar"},
		},
		key("class name", "XCUIElementTypeButton", "tab-1"): {
			{elementRefKey: "btn-1", "type": "XCUIElementTypeButton", "label": "Home"},
			{elementRefKey: "btn-2", "type": "XCUIElementTypeButton", "label": "Search"},
		},
		key("class name", "XCUIElementTypeOther", "tab-1"): {
			{elementRefKey: "btn-1", "type": "XCUIElementTypeButton", "label": "Home"},
		},
	}}

	out := Build(context.Background(), q, "udid-1")

	if len(out) != 3 {
		t.Fatalf("got %d elements, want 3 (1 container + 2 deduped children): %#v", len(out), out)
	}
	if out[0]["label"] != "TabBar" {
		t.Fatalf("expected the container first, got %#v", out[0])
	}
	for _, el := range out {
		if _, ok := el[elementRefKey]; ok {
			t.Fatalf("element ref key leaked into output: %#v", el)
		}
	}
}

// TestBuildToleratesAllContainersMissing covers the "missing containers are
// normal" rule: most screens lack an alert/sheet, and a phase-1 query that
// finds nothing must not fail the whole skeleton.
func TestBuildToleratesAllContainersMissing(t *testing.T) {
	q := &fakeQuerier{results: map[string][]map[string]interface{}{}}

	out := Build(context.Background(), q, "udid-1")
	if len(out) != 0 {
		t.Fatalf("expected no elements when no container query matches, got %#v", out)
	}
}

// TestBuildFansOutBoundedQueries checks the fan-out width bound from §4.3:
// 5 container queries, then 2 child queries per container found.
func TestBuildFansOutBoundedQueries(t *testing.T) {
	q := &fakeQuerier{results: map[string][]map[string]interface{}{
		key("class chain", "**/XCUIElementTypeTabBar", ""): {
			{elementRefKey: "tab-1", "type": "XCUIElementTypeTabBar"},
		},
		key("class chain", "**/XCUIElementTypeNavigationBar", ""): {
			{elementRefKey: "nav-1", "type": "XCUIElementTypeNavigationBar"},
		},
	}}

	Build(context.Background(), q, "udid-1")

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.calls) != 9 {
		t.Fatalf("got %d FindElementsByQuery calls, want 9 (5 containers + 2 containers * 2 child classes): %v", len(q.calls), q.calls)
	}
}
