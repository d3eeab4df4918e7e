// Package csrf manages per-owner anti-forgery tokens for mutating requests.
//
// A token is issued by the token endpoint, stored under an owner key derived
// from the caller's session (or address and user agent when there is none)
// and exposed to the browser through a readable cookie. Mutating requests
// must echo it back in a header or body field. Tokens expire after a hard
// limit and are rotated transparently once they pass the rotation threshold.
// When the token store is unavailable requests are let through.
package csrf
