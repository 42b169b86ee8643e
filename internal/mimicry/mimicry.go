// Package mimicry disguises LLP records as HTTP responses of a chosen
// regional streaming service so that a static DPI classifier sees ordinary
// web traffic rather than a VPN protocol. A profile is a closed, small set
// of variants (§9's tagged-variant design note), so Profile is implemented
// as an enum with a switch in each method rather than as open interface
// polymorphism.
package mimicry

import (
	"errors"
	"time"

	"github.com/llpmimic/llp/internal/wire"
)

// Profile identifies one mimicry variant. The zero value, ProfileNone, is
// the identity transform.
type Profile uint16

const (
	ProfileNone        Profile = Profile(wire.ProfileNone)
	ProfileVkVideo     Profile = Profile(wire.ProfileVkVideo)
	ProfileYandexMusic Profile = Profile(wire.ProfileYandexMusic)
	ProfileRuTube      Profile = Profile(wire.ProfileRuTube)
)

// ErrMalformedEnvelope is returned by Unwrap for any deviation from the
// expected HTTP-shaped skeleton. It is intentionally the only error Unwrap
// ever returns, regardless of which specific check failed — a network
// observer or a compromised peer must not be able to distinguish "bad
// status line" from "bad Content-Length" from "truncated body".
var ErrMalformedEnvelope = errors.New("mimicry: malformed envelope")

// ErrUnknownProfile is returned for a profile id this build does not
// implement.
var ErrUnknownProfile = errors.New("mimicry: unknown profile id")

// String returns the profile's configuration name, matching the
// `mimicry_profile` configuration enumeration.
func (p Profile) String() string {
	switch p {
	case ProfileNone:
		return "none"
	case ProfileVkVideo:
		return "vk_video"
	case ProfileYandexMusic:
		return "yandex_music"
	case ProfileRuTube:
		return "rutube"
	default:
		return "unknown"
	}
}

// ParseProfile maps a configuration string to a Profile.
func ParseProfile(name string) (Profile, error) {
	switch name {
	case "none", "":
		return ProfileNone, nil
	case "vk_video":
		return ProfileVkVideo, nil
	case "yandex_music":
		return ProfileYandexMusic, nil
	case "rutube":
		return ProfileRuTube, nil
	default:
		return 0, ErrUnknownProfile
	}
}

// Wrap encodes record as an HTTP-shaped envelope for this profile. The
// None profile is the identity function.
func (p Profile) Wrap(record []byte) ([]byte, error) {
	switch p {
	case ProfileNone:
		return record, nil
	case ProfileVkVideo:
		return wrapVkVideo(record)
	case ProfileYandexMusic:
		return wrapYandexMusic(record)
	case ProfileRuTube:
		return wrapRuTube(record)
	default:
		return nil, ErrUnknownProfile
	}
}

// Unwrap reverses Wrap, returning ErrMalformedEnvelope uniformly on any
// parse failure.
func (p Profile) Unwrap(envelope []byte) ([]byte, error) {
	switch p {
	case ProfileNone:
		return envelope, nil
	case ProfileVkVideo:
		return unwrapVkVideo(envelope)
	case ProfileYandexMusic:
		return unwrapYandexMusic(envelope)
	case ProfileRuTube:
		return unwrapRuTube(envelope)
	default:
		return nil, ErrUnknownProfile
	}
}

// ChunkSizeRange returns the [min, max] body-chunk size in bytes this
// profile's real traffic would use, consulted when the wrapper decides
// whether to apply chunked transfer-coding to a large record.
func (p Profile) ChunkSizeRange() (min, max int) {
	switch p {
	case ProfileVkVideo:
		return 64 * 1024, 256 * 1024
	case ProfileYandexMusic:
		return 16 * 1024, 64 * 1024
	case ProfileRuTube:
		return 100 * 1024, 500 * 1024
	default:
		return 0, 0
	}
}

// NextDelay samples this profile's inter-send timing distribution. The
// delay is advisory: callers honor it when latency budget permits, never as
// a correctness requirement.
func (p Profile) NextDelay() time.Duration {
	switch p {
	case ProfileVkVideo:
		return burstyDelay()
	case ProfileYandexMusic:
		return steadyDelay(50*time.Millisecond, 200*time.Millisecond)
	case ProfileRuTube:
		return burstyDelay()
	default:
		return 0
	}
}
