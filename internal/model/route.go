package model

import "strings"

// Route is the handling strategy chosen for a single sub-query.
type Route string

const (
	RouteParameterRecommendation Route = "parameter_recommendation"
	RouteDocumentExtraction      Route = "document_extraction"
	RouteOnlineSearch            Route = "online_search"
	RouteUnknown                 Route = "unknown"
)

// AllRoutes returns the fixed route taxonomy in prompt order.
func AllRoutes() []Route {
	return []Route{
		RouteParameterRecommendation,
		RouteDocumentExtraction,
		RouteOnlineSearch,
		RouteUnknown,
	}
}

// ParseRoute maps a model-produced label onto the taxonomy. Anything
// unrecognized is RouteUnknown.
func ParseRoute(s string) Route {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.Trim(norm, `"'.`)
	norm = strings.ReplaceAll(norm, " ", "_")
	for _, r := range AllRoutes() {
		if norm == string(r) {
			return r
		}
	}
	return RouteUnknown
}
