// Package identity resolves who is calling: the authenticated actor and
// session carried by a bearer token or session cookie, and the proxy-aware
// client address. It is a collaborator of the request-integrity middlewares
// and never rejects a request itself.
package identity
