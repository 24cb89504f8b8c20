/*
Package orm provides an easy to use db wrapper

Break state space into prefixed sections called Buckets.
* Each bucket contains only one type of model.
* It has a primary key, which may be composite.
* Easy queries for one and iteration over a key prefix.

Models are plain Go structs serialized with go-amino, so no code generation is
required. A model that carries a version (VersionedModel) can be stored in a
VersionedBucket which refuses to overwrite a newer state than the one the
caller has read.
*/
package orm
