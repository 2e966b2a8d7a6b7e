package registry

import "errors"

var (
	// ErrRegistrationConflict is returned when a module claims an index that
	// is already counted for its sensor type, or one that cannot exist.
	ErrRegistrationConflict = errors.New("registry: registration conflict")

	// ErrPersistenceMiss is returned by a Repository holding no mapping yet.
	// The dispatcher treats it as a first boot.
	ErrPersistenceMiss = errors.New("registry: no persisted registration state")

	// ErrRFIDExhausted is returned when every module rf id has been handed out.
	ErrRFIDExhausted = errors.New("registry: rf id range exhausted")
)
