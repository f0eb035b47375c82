// Package router maps a (opType, entityType) pair to the HTTP route and
// wire-body transform the API client needs to dispatch it (spec §4.9).
// The registry shape mirrors a typical chi mux registration table, but
// keyed on the op's own tagged variants instead of an incoming URL —
// dispatch direction is reversed (local mutation -> outbound call)
// rather than the teacher's inbound HTTP routing, so this package is
// original to the sync engine rather than adapted from a single teacher
// file; it reuses the op package's Type enum as its dispatch key, per
// spec §9's "tagged variants for opType" guidance.
package router

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/aurafall/syncengine/pkg/syncengine/op"
)

// Route is what the router resolves a (opType, entityType) pair to.
type Route struct {
	Method              string
	RequiresIdempotency bool
	// PathBuilder substitutes path parameters (conventionally "id") from
	// the payload and returns the final request path.
	PathBuilder func(payload op.Payload) (string, error)
	// Transform produces the wire-format JSON body. Parameters consumed
	// by PathBuilder must not appear in the returned body (spec §4.9).
	Transform func(payload op.Payload) (map[string]any, error)
}

type key struct {
	OpType     op.Type
	EntityType string
}

// Router is a registry of routes keyed by (opType, entityType).
type Router struct {
	routes map[key]Route
}

// New returns a Router pre-populated with the minimum route set spec §6
// requires: user/room/device/automation create/update/delete,
// device-state update (no idempotency), and health records for
// heart-rate, blood-pressure and fall-event.
func New() *Router {
	r := &Router{routes: make(map[key]Route)}
	for _, entity := range []string{"user", "room", "device", "automation"} {
		r.registerCRUD(entity)
	}
	r.Register(op.DeviceState, "device", Route{
		Method:              "PUT",
		RequiresIdempotency: false,
		PathBuilder:         pathWithID("devices"),
		Transform:           transformExcluding("id"),
	})
	for _, kind := range []string{"heart_rate", "blood_pressure", "fall_event"} {
		r.Register(op.RecordVital, kind, Route{
			Method:              "POST",
			RequiresIdempotency: true,
			PathBuilder:         staticPath("/api/v1/health/" + kind),
			Transform:           transformExcluding(),
		})
		r.Register(op.BatchCreate, kind, Route{
			Method:              "POST",
			RequiresIdempotency: true,
			PathBuilder:         staticPath("/api/v1/health/" + kind + "/batch"),
			Transform:           transformExcluding(),
		})
	}
	return r
}

func (r *Router) registerCRUD(entity string) {
	plural := pluralize(entity)
	r.Register(op.Create, entity, Route{
		Method:              "POST",
		RequiresIdempotency: true,
		PathBuilder:         staticPath("/api/v1/" + plural),
		Transform:           transformExcluding(),
	})
	r.Register(op.Update, entity, Route{
		Method:              "PUT",
		RequiresIdempotency: true,
		PathBuilder:         pathWithID(plural),
		Transform:           transformExcluding("id"),
	})
	r.Register(op.Patch, entity, Route{
		Method:              "PATCH",
		RequiresIdempotency: true,
		PathBuilder:         pathWithID(plural),
		Transform:           transformExcluding("id"),
	})
	r.Register(op.Delete, entity, Route{
		Method:              "DELETE",
		RequiresIdempotency: true,
		PathBuilder:         pathWithID(plural),
		Transform:           transformExcluding("id"),
	})
}

// Register adds or overwrites the route for (opType, entityType).
func (r *Router) Register(opType op.Type, entityType string, route Route) {
	r.routes[key{OpType: opType, EntityType: entityType}] = route
}

// Resolve looks up the route for a pending op's (opType, entityType).
func (r *Router) Resolve(opType op.Type, entityType string) (Route, bool) {
	route, ok := r.routes[key{OpType: opType, EntityType: entityType}]
	return route, ok
}

// FetchPath returns the GET path for a single resource of entityType,
// used by the reconciler to fetch current server state ahead of a
// versionMismatch rebase (spec §4.12: "fetch current server state for
// the resource"). It reuses the same <plural>/<id> convention as the
// update/delete routes rather than requiring a separate registration.
func (r *Router) FetchPath(entityType, id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("router: fetch path: empty id")
	}
	return fmt.Sprintf("/api/v1/%s/%s", pluralize(entityType), id), nil
}

func staticPath(p string) func(op.Payload) (string, error) {
	return func(op.Payload) (string, error) { return p, nil }
}

func pathWithID(plural string) func(op.Payload) (string, error) {
	return func(payload op.Payload) (string, error) {
		id, ok := payload["id"].(string)
		if !ok || id == "" {
			return "", fmt.Errorf("router: payload missing required path parameter %q", "id")
		}
		return fmt.Sprintf("/api/v1/%s/%s", plural, id), nil
	}
}

// transformExcluding returns a Transform that converts payload keys to
// snake_case for the wire, dropping any key in exclude (parameters
// already consumed by the path) and formatting time.Time values as
// ISO-8601 UTC (spec §4.9).
func transformExcluding(exclude ...string) func(op.Payload) (map[string]any, error) {
	skip := make(map[string]bool, len(exclude))
	for _, k := range exclude {
		skip[k] = true
	}
	return func(payload op.Payload) (map[string]any, error) {
		out := make(map[string]any, len(payload))
		for k, v := range payload {
			if skip[k] {
				continue
			}
			out[toSnakeCase(k)] = wireValue(v)
		}
		return out, nil
	}
}

func wireValue(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[toSnakeCase(k)] = wireValue(vv)
		}
		return out
	default:
		return v
	}
}

// toSnakeCase converts a camelCase identifier to snake_case.
func toSnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// pluralize is a mechanical English pluralizer sufficient for the fixed
// entity-type vocabulary the sync engine routes (spec §4.9's <plural>
// convention); it is not meant to generalize beyond it.
func pluralize(entity string) string {
	if strings.HasSuffix(entity, "s") {
		return entity + "es"
	}
	return entity + "s"
}
