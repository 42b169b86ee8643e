package mimicry

import "time"

// Wrapper binds a mimicry Profile for the lifetime of one session's
// carrier traffic. It holds no cryptographic state and may be freely
// reconstructed — reconnecting a session with a fresh Wrapper changes
// nothing about the session it wraps.
type Wrapper struct {
	profile Profile
}

// NewWrapper binds profile to a new Wrapper.
func NewWrapper(profile Profile) *Wrapper {
	return &Wrapper{profile: profile}
}

// Profile returns the bound profile.
func (w *Wrapper) Profile() Profile { return w.profile }

// Wrap routes to the bound profile's Wrap.
func (w *Wrapper) Wrap(record []byte) ([]byte, error) {
	return w.profile.Wrap(record)
}

// Unwrap routes to the bound profile's Unwrap.
func (w *Wrapper) Unwrap(envelope []byte) ([]byte, error) {
	return w.profile.Unwrap(envelope)
}

// NextDelay forwards to the bound profile's timing distribution.
func (w *Wrapper) NextDelay() time.Duration {
	return w.profile.NextDelay()
}
