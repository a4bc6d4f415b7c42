// Package server exposes the gateway to an MCP client.
//
// Server implements the JSON-RPC method table (initialize, ping, tools,
// resources and prompts) on top of a dispatch.Dispatcher. It can be served
// over stdio with ServeStdio, or over HTTP with Handler, which adds the
// session header, protocol version validation, pre-shared key
// authentication, a health endpoint and prometheus metrics.
//
// Usage:
//
//	srv, _ := server.New(server.Options{Dispatcher: d, Info: server.Info{Name: "toolgateway"}})
//	http.Handle("/", srv.Handler(server.HTTPOptions{Sessions: mgr}))
package server
