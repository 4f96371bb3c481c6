package httpserver

import (
	"net/http"

	"github.com/tokligence/localllama/internal/httpserver/protocol"
)

type routeTable struct {
	name   string
	routes []protocol.EndpointRoute
}

func (e *routeTable) Name() string { return e.name }

func (e *routeTable) Routes() []protocol.EndpointRoute { return e.routes }

func newRootEndpoint(s *Server) protocol.Endpoint {
	return &routeTable{name: "root", routes: []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/", Label: "root", Handler: http.HandlerFunc(s.HandleRoot)},
	}}
}

func newChatEndpoint(s *Server) protocol.Endpoint {
	return &routeTable{name: "chat", routes: []protocol.EndpointRoute{
		{Method: http.MethodPost, Path: "/chat/stream", Handler: http.HandlerFunc(s.HandleChatStream)},
		{Method: http.MethodPost, Path: "/chat/continue", Handler: http.HandlerFunc(s.HandleChatContinue)},
		{Method: http.MethodPost, Path: "/chat/stop", Handler: http.HandlerFunc(s.HandleChatStop)},
	}}
}

func newAskEndpoint(s *Server) protocol.Endpoint {
	return &routeTable{name: "ask", routes: []protocol.EndpointRoute{
		{Method: http.MethodPost, Path: "/ask", Handler: http.HandlerFunc(s.HandleAsk)},
	}}
}

func newHealthEndpoint(s *Server) protocol.Endpoint {
	return &routeTable{name: "health", routes: []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/health", Handler: http.HandlerFunc(s.HandleHealth)},
	}}
}

func newMetricsEndpoint(s *Server) protocol.Endpoint {
	return &routeTable{name: "metrics", routes: []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/metrics", Handler: s.metrics.Handler()},
	}}
}

func newGenerationsEndpoint(s *Server) protocol.Endpoint {
	return &routeTable{name: "generations", routes: []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/generations", Handler: http.HandlerFunc(s.HandleGenerations)},
		{Method: http.MethodGet, Path: "/generations/summary", Handler: http.HandlerFunc(s.HandleGenerationSummary)},
	}}
}
