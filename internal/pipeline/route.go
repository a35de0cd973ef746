package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/sells-group/cutting-params/internal/llm"
	"github.com/sells-group/cutting-params/internal/model"
)

type routeReply struct {
	Route string `json:"route"`
}

func routeSystem() string {
	names := make([]string, 0, len(model.AllRoutes()))
	for _, r := range model.AllRoutes() {
		names = append(names, string(r))
	}
	return fmt.Sprintf(`Route the user's request to exactly one of these types: %s.
- parameter_recommendation: questions about cutting parameters (speed, feed, depth of cut) for a tool, material and operation.
- document_extraction: questions about diagrams, pictures or figures.
- online_search: general manufacturing questions that need current information from the web.
- unknown: anything else, including product or company information.
Respond with JSON only: {"route": "<type>"}`, strings.Join(names, ", "))
}

// Router classifies one sub-query into a route. It never sees sibling
// sub-queries.
type Router struct {
	llm    llm.Completer
	system string
}

// NewRouter creates a Router.
func NewRouter(c llm.Completer) *Router {
	return &Router{llm: c, system: routeSystem()}
}

// Route classifies subQuery. An unrecognized label is RouteUnknown; only a
// failed call is an error.
func (r *Router) Route(ctx context.Context, subQuery string) (model.Route, error) {
	resp, err := r.llm.Complete(ctx, llm.Request{
		System:      r.system,
		User:        subQuery,
		MaxTokens:   64,
		JSON:        true,
		CacheSystem: true,
		Phase:       "route",
	})
	if err != nil {
		return model.RouteUnknown, err
	}
	reply, err := llm.DecodeJSON[routeReply](resp.Text)
	if err != nil {
		// A bare label is accepted as well.
		return model.ParseRoute(resp.Text), nil
	}
	return model.ParseRoute(reply.Route), nil
}
