// Package api provides the HTTP REST API and WebSocket server for the CTHz
// core.
//
// It exposes event ingress, fleet and policy management, entity status,
// alert acknowledgement, hardware request triggers and the dispatch audit
// trail to operator consoles and integrations.
//
// The server follows the same lifecycle pattern as the infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
