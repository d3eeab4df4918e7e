// Package dedup rejects accidental duplicate submissions (double clicks,
// network retries) of mutating requests.
//
// Every non-skipped request is reduced to a fingerprint; if the same
// fingerprint was seen within its route's window the request is answered with
// 429 and a Retry-After hint. The cache is in-process and per instance. Any
// internal failure lets the request through.
package dedup
