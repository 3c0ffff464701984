// Package api exposes the escrow and validation engines over HTTP under
// /api/v1. Mutating endpoints act on behalf of the principal established by
// the auth middleware; read endpoints are open.
package api
