// Package fingerprint derives stable request fingerprints for deduplication.
//
// A fingerprint identifies "the same request" independently of cosmetic
// differences: identifier path segments are collapsed to placeholders, JSON
// object keys are sorted recursively and form values are re-encoded in key
// order before anything is hashed. The digest is SHA-256 over the JSON
// encoding of a Tuple.
package fingerprint
