/*
Package ledger wraps the Stellar Go SDK with the small set of typed value
objects the treasury needs: building payment and challenge transactions,
parsing serialized envelopes, computing the canonical content hash, signing,
merging signature lists and submitting to Horizon.

An Envelope is immutable. Sign and Merge return a new Envelope that shares the
transaction body and hash with the receiver and differs only in its
signature list.
*/
package ledger
