// Package cluster describes a directory node's place in the tree and how it
// talks to its neighbors.
//
// # Overview
//
// Directory nodes form a tree. Each node knows only its immediate
// neighborhood: at most one parent, at most one master (usually the root),
// any number of children, and optional shortcuts that name a deeper
// descendant together with the child that leads to it.
//
//	              ┌──────────┐
//	              │  level1  │  (root, no parent)
//	              └────┬─────┘
//	           ┌───────┴───────┐
//	      ┌────▼────┐     ┌────▼────┐
//	      │ level2a │     │ level2b │
//	      └────┬────┘     └─────────┘
//	      ┌────▼────┐
//	      │ level3  │   level1 may hold the shortcut level3 -> level2a
//	      └─────────┘
//
// # Core Components
//
// Topology: the validated, immutable neighborhood of one node. It is built
// once at startup and shared by the router, the propagators and the fan-out
// aggregator.
//
// Router: maps a target location to the next hop. Own name is local, a
// neighbor name goes to that neighbor, a shortcut goes to its child, and
// everything else goes up to the parent. A root that doesn't recognise the
// target has no route.
//
// Client: JSON over HTTP between nodes. Every request carries the hop count
// (X-Thingdir-Hops) and the inbound request id (X-Request-ID). Redirects are
// never followed, so a neighbor answering 302 surfaces as a StatusError.
//
// # Wire Types
//
// RegisterRequest, AggregateUpdate and RelocateRequest are the request
// bodies shared by the HTTP handlers and the outbound calls. A record inside
// RegisterRequest stays raw JSON so intermediate hops forward it byte for
// byte.
//
// # Addresses
//
// A neighbor URL is the base of that node's API, prefix included, for
// example "http://10.0.0.7:5001/api". Endpoint paths (PathRegister,
// PathSearch, ...) are joined onto it.
package cluster
