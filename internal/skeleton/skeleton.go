// Package skeleton implements the fallback screen-description engine
// (component E): when the full accessibility snapshot times out, it builds
// an equivalent lightweight description via parallel class-chain container
// queries and per-container scoped child queries.
package skeleton

import (
	"context"
	"sync"
	"time"
)

// containerQueryTimeout is the per-call timeout for phase 1's class-chain
// queries, per §4.3.
const containerQueryTimeout = 8 * time.Second

// containerClasses is the fixed set of container class-chain locators
// phase 1 queries in parallel. Missing containers are normal.
var containerClasses = []string{
	"**/XCUIElementTypeTabBar",
	"**/XCUIElementTypeNavigationBar",
	"**/XCUIElementTypeToolbar",
	"**/XCUIElementTypeAlert",
	"**/XCUIElementTypeSheet",
}

// childClasses is the fixed set of class-name locators phase 2 queries,
// scoped to each container found in phase 1.
var childClasses = []string{
	"XCUIElementTypeButton",
	"XCUIElementTypeOther",
}

// elementRefKey is the map key the querier stashes the device-assigned
// element reference under, so phase 2 can scope to it and the final output
// can strip it before returning.
const elementRefKey = "_wda_element_id"

// Querier is the narrow primitive the skeleton engine needs from the WDA
// client: a locator-strategy element query, scoped to an optional parent
// element reference, that degrades to an empty result on failure rather
// than erroring.
type Querier interface {
	FindElementsByQuery(ctx context.Context, udid, using, value, scopeElementID string, timeout time.Duration) []map[string]interface{}
}

// Build runs the two-phase fan-out and returns the flat, deduplicated,
// ref-stripped result: containers first (in containerClasses order, not in
// query completion order), then deduped children.
func Build(ctx context.Context, q Querier, udid string) []map[string]interface{} {
	containers := queryContainers(ctx, q, udid)
	children := queryChildren(ctx, q, udid, containers)

	flat := make([]map[string]interface{}, 0, len(containers)+len(children))
	for _, c := range containers {
		flat = append(flat, stripRef(c))
	}
	for _, c := range children {
		flat = append(flat, stripRef(c))
	}
	return flat
}

func queryContainers(ctx context.Context, q Querier, udid string) []map[string]interface{} {
	results := make([][]map[string]interface{}, len(containerClasses))

	var wg sync.WaitGroup
	for i, chain := range containerClasses {
		wg.Add(1)
		go func(i int, chain string) {
			defer wg.Done()
			results[i] = q.FindElementsByQuery(ctx, udid, "class chain", chain, "", containerQueryTimeout)
		}(i, chain)
	}
	wg.Wait()

	var containers []map[string]interface{}
	for _, res := range results {
		for _, el := range res {
			if ref, ok := el[elementRefKey]; ok && ref != "" {
				containers = append(containers, el)
			}
		}
	}
	return containers
}

type childJob struct {
	containerRef string
	class        string
}

func queryChildren(ctx context.Context, q Querier, udid string, containers []map[string]interface{}) []map[string]interface{} {
	var jobs []childJob
	for _, c := range containers {
		ref, _ := c[elementRefKey].(string)
		for _, class := range childClasses {
			jobs = append(jobs, childJob{containerRef: ref, class: class})
		}
	}
	if len(jobs) == 0 {
		return nil
	}

	results := make([][]map[string]interface{}, len(jobs))
	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		go func(i int, job childJob) {
			defer wg.Done()
			results[i] = q.FindElementsByQuery(ctx, udid, "class name", job.class, job.containerRef, containerQueryTimeout)
		}(i, job)
	}
	wg.Wait()

	seen := make(map[string]bool)
	var children []map[string]interface{}
	for _, res := range results {
		for _, el := range res {
			ref, _ := el[elementRefKey].(string)
			if ref != "" {
				if seen[ref] {
					continue
				}
				seen[ref] = true
			}
			children = append(children, el)
		}
	}
	return children
}

func stripRef(el map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(el))
	for k, v := range el {
		if k == elementRefKey {
			continue
		}
		out[k] = v
	}
	return out
}
