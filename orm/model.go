package orm

// Model is implemented by any entity that can be stored using a Bucket.
type Model interface {
	// Validate returns error if the model is not in a valid
	// state to save to the db (eg. field missing, out of range, ...)
	Validate() error
}

// VersionedModel is a model that tracks the number of times it was written.
// The version is managed by the VersionedBucket and must not be changed by
// the application.
type VersionedModel interface {
	Model
	GetVersion() uint32
	SetVersion(uint32)
}
