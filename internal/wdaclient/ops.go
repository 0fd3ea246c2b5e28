package wdaclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/devicelab-dev/quern/internal/core"
	"github.com/devicelab-dev/quern/internal/element"
	"github.com/devicelab-dev/quern/internal/skeleton"
)

// elementRefKey is the map key FindElementsByQuery stashes the device-
// assigned element reference under — mirrors skeleton's own constant since
// the two packages must agree on the wire shape without importing each
// other.
const elementRefKey = "_wda_element_id"

var _ skeleton.Querier = (*Client)(nil)

// DeleteSession tears down the active session for udid, if any. Idempotent:
// a udid with no session is a no-op.
func (c *Client) DeleteSession(ctx context.Context, udid string) error {
	conn, ok := c.getConn(udid)
	if !ok {
		return nil
	}

	conn.mu.Lock()
	sessionID := conn.sessionID
	conn.sessionID = ""
	conn.snapshotDepth = 0
	baseURL := conn.baseURL
	conn.mu.Unlock()

	if sessionID == "" {
		return nil
	}
	if _, err := rawDelete(ctx, conn.httpClient, baseURL, "/session/"+sessionID, c.cfg.DefaultTimeout); err != nil {
		return c.transportErr(udid, err)
	}
	return nil
}

// Tap performs a single tap at (x, y), per §4.2.4.
func (c *Client) Tap(ctx context.Context, udid string, x, y float64) error {
	conn, err := c.ensureSession(ctx, udid)
	if err != nil {
		return err
	}
	sessionID, baseURL, client := conn.snapshot()

	payload := map[string]interface{}{"x": x, "y": y}
	if _, err := rawPost(ctx, client, baseURL, "/session/"+sessionID+"/wda/tap/0", payload, c.cfg.DefaultTimeout); err != nil {
		return c.transportErr(udid, err)
	}
	conn.markTouched()
	return nil
}

// Swipe performs a drag from (fromX, fromY) to (toX, toY) over duration.
func (c *Client) Swipe(ctx context.Context, udid string, fromX, fromY, toX, toY float64, duration time.Duration) error {
	conn, err := c.ensureSession(ctx, udid)
	if err != nil {
		return err
	}
	sessionID, baseURL, client := conn.snapshot()

	payload := map[string]interface{}{
		"fromX":    fromX,
		"fromY":    fromY,
		"toX":      toX,
		"toY":      toY,
		"duration": duration.Seconds(),
	}
	if _, err := rawPost(ctx, client, baseURL, "/session/"+sessionID+"/wda/dragfromtoforduration", payload, c.cfg.DefaultTimeout); err != nil {
		return c.transportErr(udid, err)
	}
	conn.markTouched()
	return nil
}

// TypeText sends a keystroke sequence to whatever currently has focus.
func (c *Client) TypeText(ctx context.Context, udid, text string) error {
	conn, err := c.ensureSession(ctx, udid)
	if err != nil {
		return err
	}
	sessionID, baseURL, client := conn.snapshot()

	payload := map[string]interface{}{"value": strings.Split(text, "")}
	if _, err := rawPost(ctx, client, baseURL, "/session/"+sessionID+"/wda/keys", payload, c.cfg.DefaultTimeout); err != nil {
		return c.transportErr(udid, err)
	}
	conn.markTouched()
	return nil
}

// PressButton presses a named hardware/software button ("home", "volumeUp",
// "volumeDown").
func (c *Client) PressButton(ctx context.Context, udid, name string) error {
	conn, err := c.ensureSession(ctx, udid)
	if err != nil {
		return err
	}
	sessionID, baseURL, client := conn.snapshot()

	payload := map[string]interface{}{"name": name}
	if _, err := rawPost(ctx, client, baseURL, "/session/"+sessionID+"/wda/pressButton", payload, c.cfg.DefaultTimeout); err != nil {
		return c.transportErr(udid, err)
	}
	conn.markTouched()
	return nil
}

// clearClassMap maps the caller-facing element_type hint to its WDA class
// name, mirroring the original's class_map.
var clearClassMap = map[string]string{
	"SearchField":     "XCUIElementTypeSearchField",
	"TextField":       "XCUIElementTypeTextField",
	"SecureTextField": "XCUIElementTypeSecureTextField",
	"TextArea":        "XCUIElementTypeTextView",
}

// clearableClasses is the default priority order native-clear tries before
// falling back to triple-tap + backspace, when the caller gives no hint.
var clearableClasses = []string{
	"XCUIElementTypeSearchField",
	"XCUIElementTypeTextField",
	"XCUIElementTypeSecureTextField",
	"XCUIElementTypeTextView",
}

// clearSearchOrder builds the ordered list of WDA class names to try,
// putting elementType's class first (per §4.2.4: "starting with the
// caller's hint") and the remaining known classes after, each at most once.
func clearSearchOrder(elementType string) []string {
	order := make([]string, 0, len(clearableClasses))
	seen := make(map[string]bool, len(clearableClasses))

	if hint, ok := clearClassMap[elementType]; ok {
		order = append(order, hint)
		seen[hint] = true
	}
	for _, class := range clearableClasses {
		if !seen[class] {
			order = append(order, class)
			seen[class] = true
		}
	}
	return order
}

// ClearText clears a text field: it tries a native element clear first on
// the first element found for each WDA class in clearSearchOrder
// (elementType's class first when given, e.g. "SearchField", "TextField",
// "SecureTextField", "TextArea"), falling back to triple-tap-then-backspace
// if no clearable element is found under "class name".
func (c *Client) ClearText(ctx context.Context, udid string, x, y float64, elementType string) error {
	conn, err := c.ensureSession(ctx, udid)
	if err != nil {
		return err
	}

	sessionID, baseURL, client := conn.snapshot()

	for _, class := range clearSearchOrder(elementType) {
		resp, err := rawPost(ctx, client, baseURL, "/session/"+sessionID+"/element", map[string]interface{}{
			"using": "class name",
			"value": class,
		}, c.cfg.DefaultTimeout)
		if err != nil {
			continue
		}
		id := extractElementID(resp)
		if id == "" {
			continue
		}
		if _, err := rawPost(ctx, client, baseURL, "/session/"+sessionID+"/element/"+id+"/clear", nil, c.cfg.DefaultTimeout); err == nil {
			conn.markTouched()
			return nil
		}
	}

	// Fallback: triple-tap to select, pause, then backspace.
	for i := 0; i < 3; i++ {
		if _, err := rawPost(ctx, client, baseURL, "/session/"+sessionID+"/wda/tap/0", map[string]interface{}{"x": x, "y": y}, c.cfg.DefaultTimeout); err != nil {
			return c.transportErr(udid, err)
		}
	}
	time.Sleep(150 * time.Millisecond)
	if _, err := rawPost(ctx, client, baseURL, "/session/"+sessionID+"/wda/keys", map[string]interface{}{"value": []string{"\b"}}, c.cfg.DefaultTimeout); err != nil {
		return c.transportErr(udid, err)
	}

	conn.markTouched()
	return nil
}

// FindElementsByQuery queries for elements by locator strategy, scoped to
// scopeElementID when non-empty, returning idb-format dicts each carrying
// an elementRefKey. It degrades to an empty slice on any transport failure
// or non-2xx response — callers (the skeleton engine) treat a missing
// container as normal, never an error.
func (c *Client) FindElementsByQuery(ctx context.Context, udid, using, value, scopeElementID string, timeout time.Duration) []map[string]interface{} {
	conn, err := c.ensureSession(ctx, udid)
	if err != nil {
		return nil
	}

	sessionID, baseURL, client := conn.snapshot()

	path := "/session/" + sessionID + "/elements"
	if scopeElementID != "" {
		path = "/session/" + sessionID + "/element/" + scopeElementID + "/elements"
	}

	resp, err := rawPost(ctx, client, baseURL, path, map[string]interface{}{
		"using": using,
		"value": value,
	}, timeout)
	if err != nil {
		return nil
	}

	items, ok := resp["value"].([]interface{})
	if !ok {
		return nil
	}

	out := make([]map[string]interface{}, 0, len(items))
	for _, it := range items {
		raw, ok := it.(map[string]interface{})
		if !ok {
			continue
		}
		out = append(out, mapWDAElementFromQuery(raw))
	}
	return out
}

// BuildScreenSkeleton delegates to the skeleton engine, which calls back
// into FindElementsByQuery for its two-phase fan-out.
func (c *Client) BuildScreenSkeleton(ctx context.Context, udid string) []element.Element {
	raw := skeleton.Build(ctx, c, udid)
	return element.ParseAll(raw)
}

// DescribeAll returns the flattened accessibility tree for the current
// screen. depth overrides the session's snapshotMaxDepth when non-zero and
// different from what's cached on the connection (§4.2.4's optional
// describe_all(udid, depth?) parameter); pass 0 to use whatever depth the
// session already has. On a soft /source timeout it checks driver liveness,
// restarts if unresponsive, and falls back to the skeleton engine — never
// propagating the timeout as an error per §4.3.
func (c *Client) DescribeAll(ctx context.Context, udid string, depth int) ([]element.Element, error) {
	tree, usedFallback, err := c.fetchSource(ctx, udid, depth)
	if err != nil {
		return nil, err
	}
	if usedFallback {
		c.recordSkeletonFallback()
		return c.BuildScreenSkeleton(ctx, udid), nil
	}
	return element.FlattenForest(tree), nil
}

func (c *Client) recordSkeletonFallback() {
	if c.metrics != nil {
		c.metrics.WDASkeletonFallbacks.Inc()
	}
}

// DescribeAllNested is DescribeAll but preserves nesting; its skeleton
// fallback has no meaningful nesting, so it returns the flat skeleton as a
// forest of single-node trees (invariant: callers must tolerate a flat
// degraded shape during fallback).
func (c *Client) DescribeAllNested(ctx context.Context, udid string, depth int) ([]*element.Tree, error) {
	tree, usedFallback, err := c.fetchSource(ctx, udid, depth)
	if err != nil {
		return nil, err
	}
	if usedFallback {
		c.recordSkeletonFallback()
		flat := c.BuildScreenSkeleton(ctx, udid)
		out := make([]*element.Tree, len(flat))
		for i, e := range flat {
			out[i] = &element.Tree{Element: e}
		}
		return out, nil
	}
	return tree, nil
}

// DescribePoint returns the deepest element whose frame contains (x, y),
// per the "last match wins" rule used against the flattened tree.
func (c *Client) DescribePoint(ctx context.Context, udid string, x, y float64) (*element.Element, error) {
	elements, err := c.DescribeAll(ctx, udid, 0)
	if err != nil {
		return nil, err
	}

	var found *element.Element
	for i := range elements {
		e := &elements[i]
		if e.Frame == nil {
			continue
		}
		if x >= e.Frame.X && x <= e.Frame.X+e.Frame.Width &&
			y >= e.Frame.Y && y <= e.Frame.Y+e.Frame.Height {
			found = e
		}
	}
	if found == nil {
		return nil, core.ErrElementNotFound.WithMessage(fmt.Sprintf("no element at (%.1f, %.1f)", x, y))
	}
	return found, nil
}

// fetchSource is the shared /source fetch + soft-timeout-recovery path for
// DescribeAll and DescribeAllNested. usedFallback is true when the skeleton
// engine should be used instead of tree. depth, when non-zero, is pushed via
// applyDepth before the /source GET so a per-call depth override (invariant
// 3's "zero redundant settings POSTs" is still honored: applyDepth is a
// no-op when depth matches what's already cached on the connection) is in
// effect for this fetch.
func (c *Client) fetchSource(ctx context.Context, udid string, depth int) (tree []*element.Tree, usedFallback bool, err error) {
	conn, err := c.ensureSession(ctx, udid)
	if err != nil {
		return nil, false, err
	}

	if depthErr := c.applyDepth(ctx, conn, depth); depthErr != nil {
		return nil, false, udidError(udid, depthErr)
	}

	sessionID, baseURL, client := conn.snapshot()

	resp, fetchErr := rawGet(ctx, client, baseURL, "/session/"+sessionID+"/source?format=json", c.cfg.SourceSoftTimeout)
	if fetchErr == nil {
		value, ok := resp["value"].(map[string]interface{})
		if !ok {
			return nil, false, udidError(udid, fmt.Errorf("malformed /source response"))
		}
		mapped := mapWDAElement(value)
		parsed := element.ParseTree([]map[string]interface{}{mapped})

		conn.markTouched()
		return parsed, false, nil
	}

	if !isTimeout(fetchErr) {
		return nil, false, udidError(udid, fetchErr)
	}

	// Soft timeout: a responsive driver just took too long snapshotting a
	// deep tree. An unresponsive one needs a restart before we can fall
	// back to the skeleton engine at all.
	if !c.isResponsive(ctx, conn) {
		osVersion := c.rememberedOSVersion(udid)
		if osVersion != "" && c.restarter != nil {
			if err := c.restarter.Start(ctx, udid, osVersion); err != nil {
				c.log.Warn("driver restart after soft timeout failed, using skeleton anyway", "udid", udid, "err", err)
			} else {
				c.dropConn(udid)
			}
		}
	}

	return nil, true, nil
}

func (c *Client) rememberedOSVersion(udid string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.osVersions[udid]
}

func (c *Client) isResponsive(ctx context.Context, conn *connection) bool {
	_, baseURL, client := conn.snapshot()
	_, err := rawGet(ctx, client, baseURL, "/status", c.cfg.StatusPingTimeout)
	return err == nil
}

func extractElementID(resp map[string]interface{}) string {
	value, ok := resp["value"].(map[string]interface{})
	if !ok {
		return ""
	}
	if id, ok := value["ELEMENT"].(string); ok && id != "" {
		return id
	}
	if id, ok := value["element-6066-11e4-a52e-4f735466cecf"].(string); ok {
		return id
	}
	return ""
}

// mapWDAElement maps a /source tree node (nested, "children" key present)
// into the idb-format dict internal/element expects. AXUniqueId prefers
// rawIdentifier, falling back to name — distinct from query results, which
// have their own mapping below.
func mapWDAElement(raw map[string]interface{}) map[string]interface{} {
	identifier, _ := raw["rawIdentifier"].(string)
	if identifier == "" {
		identifier, _ = raw["name"].(string)
	}

	out := baseMappedFields(raw, identifier)

	if rawChildren, ok := raw["children"].([]interface{}); ok {
		children := make([]interface{}, 0, len(rawChildren))
		for _, rc := range rawChildren {
			if childMap, ok := rc.(map[string]interface{}); ok {
				children = append(children, mapWDAElement(childMap))
			}
		}
		out["children"] = children
	}
	return out
}

// mapWDAElementFromQuery maps a single /elements query result into the same
// idb-format dict, plus the elementRefKey used for scoping and dedup.
// Identifier sourcing differs from mapWDAElement: name wins unless it's a
// bare class-name echo, in which case rawIdentifier is used instead.
func mapWDAElementFromQuery(raw map[string]interface{}) map[string]interface{} {
	name, _ := raw["name"].(string)
	identifier := ""
	if name != "" && !strings.HasPrefix(name, "XCUIElementType") {
		identifier = name
	} else {
		identifier, _ = raw["rawIdentifier"].(string)
	}

	out := baseMappedFields(raw, identifier)
	out[elementRefKey] = extractElementID(map[string]interface{}{"value": raw})
	return out
}

func baseMappedFields(raw map[string]interface{}, identifier string) map[string]interface{} {
	enabled := true
	if v, ok := raw["isEnabled"].(bool); ok {
		enabled = v
	}

	out := map[string]interface{}{
		"type":             raw["type"],
		"AXUniqueId":       identifier,
		"AXLabel":          raw["label"],
		"AXValue":          raw["value"],
		"enabled":          enabled,
		"role":             "",
		"role_description": "",
	}
	if rect, ok := raw["rect"].(map[string]interface{}); ok {
		out["frame"] = rect
	}
	return out
}
