package wdaclient

import (
	"context"
)

// settingsPayload is POSTed to a session immediately after creation — the
// exact three fields §4.2.2 specifies.
func settingsPayload(depth int) map[string]interface{} {
	return map[string]interface{}{
		"settings": map[string]interface{}{
			"snapshotMaxDepth":          depth,
			"shouldUseCompactResponses": false,
			"elementResponseAttributes": "type,label,name,rect,enabled,value",
		},
	}
}

// ensureSession implements the check → lock → re-check → create pattern:
// the fast path (session already exists) never takes the exclusive lock.
func (c *Client) ensureSession(ctx context.Context, udid string) (*connection, error) {
	conn, err := c.resolveConnection(ctx, udid)
	if err != nil {
		return nil, err
	}

	conn.mu.RLock()
	has := conn.sessionID != ""
	conn.mu.RUnlock()
	if has {
		return conn, nil
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()

	// Re-check: another goroutine may have created the session while we
	// were waiting for the exclusive lock.
	if conn.sessionID != "" {
		return conn, nil
	}

	resp, err := rawPost(ctx, conn.httpClient, conn.baseURL, "/session", map[string]interface{}{
		"capabilities": map[string]interface{}{"alwaysMatch": map[string]interface{}{}},
	}, c.cfg.DefaultTimeout)
	if err != nil {
		return nil, udidError(udid, err)
	}

	sessionID := extractSessionID(resp)
	if sessionID == "" {
		return nil, udidError(udid, errNoSessionID)
	}
	conn.sessionID = sessionID
	conn.touch()
	if c.metrics != nil {
		c.metrics.WDASessionsTotal.WithLabelValues(udid).Inc()
	}

	depth := c.cfg.SnapshotMaxDepth
	if _, err := rawPost(ctx, conn.httpClient, conn.baseURL, "/session/"+sessionID+"/appium/settings", settingsPayload(depth), c.cfg.DefaultTimeout); err != nil {
		return nil, udidError(udid, err)
	}
	conn.snapshotDepth = depth

	return conn, nil
}

// applyDepth pushes a new snapshot depth if it differs from what's cached
// on the connection, satisfying invariant 3 (zero redundant settings POSTs
// when depth doesn't change). Takes the connection's exclusive lock for the
// compare-and-swap on snapshotDepth, the same lock session creation uses.
func (c *Client) applyDepth(ctx context.Context, conn *connection, depth int) error {
	conn.mu.Lock()
	defer conn.mu.Unlock()

	if depth == 0 || depth == conn.snapshotDepth {
		return nil
	}
	sessionID, baseURL := conn.sessionID, conn.baseURL
	if _, err := rawPost(ctx, conn.httpClient, baseURL, "/session/"+sessionID+"/appium/settings", settingsPayload(depth), c.cfg.DefaultTimeout); err != nil {
		return err
	}
	conn.snapshotDepth = depth
	return nil
}

func extractSessionID(resp map[string]interface{}) string {
	if value, ok := resp["value"].(map[string]interface{}); ok {
		if id, ok := value["sessionId"].(string); ok && id != "" {
			return id
		}
	}
	if id, ok := resp["sessionId"].(string); ok {
		return id
	}
	return ""
}
