// Package bind is a per-request data-binding and validation engine. Request
// types are the source of truth: struct tags declare where each parameter
// comes from (path, query, header, cookie, or the body), its wire alias,
// defaults, and constraints, and the engine derives extraction, type
// coercion, validation, and JSON-safe response encoding from them.
//
// A request type is analyzed once, at registration:
//
//	type CreateReq struct {
//	    OrgID string  `path:"org_id"`
//	    Host  string  `header:"Host"`
//	    Page  int     `query:"page" default:"1" minimum:"1"`
//	    Body  Payload `body:"json"`
//	}
//
// Handlers never see http.ResponseWriter or *http.Request:
//
//	type Handler[Req, Resp any] func(ctx context.Context, req *Req) (*Resp, error)
//
// A Controller wraps a handler into an http.Handler for any router:
//
//	mux.Handle("POST /orgs/{org_id}/items", bind.NewController(createItem))
//
// Declaration mistakes (a default on a path parameter, two fields bound to
// the same key, two body fields) fail at registration with a
// DefinitionError. At request time every declared field is checked; errors
// accumulate across all locations and are reported together in one
// 422-class response. Handler return values are recursively encoded into
// JSON-safe data with include/exclude, alias, and unset-field rules.
//
// Routing, TLS, sockets, and middleware belong to the surrounding HTTP
// stack; the engine consumes parsed requests through a small Request
// interface and works with net/http out of the box.
package bind
