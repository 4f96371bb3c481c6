package protocol

import "net/http"

// EndpointRoute binds one method and path to a handler. Label names the
// route in metrics; it defaults to Path.
type EndpointRoute struct {
	Method  string
	Path    string
	Label   string
	Handler http.Handler
}

// Endpoint is a named group of routes registered together.
type Endpoint interface {
	Name() string
	Routes() []EndpointRoute
}

// MetricLabel returns Label, or Path when Label is empty.
func (r EndpointRoute) MetricLabel() string {
	if r.Label != "" {
		return r.Label
	}
	return r.Path
}
