package video

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrNoHardwarePath is returned when hardware rendering is requested,
// no backend fits, and fallback is disabled.
var ErrNoHardwarePath = errors.New("video: no usable hardware path")

// PathPolicy is the user-facing configuration consulted by SelectPath.
type PathPolicy struct {
	UseHardware   bool
	AllowFallback bool
	// Allowed whitelists decoder kinds; a kind missing from the map is
	// allowed. A false entry disables the kind.
	Allowed map[string]bool
}

// PathChoice records the (decoder kind, renderer kind) pair selected at
// open. It never changes mid-stream.
type PathChoice struct {
	Decoder  HWKind
	Hardware bool
}

// String renders the choice for the open log line.
func (c PathChoice) String() string {
	if !c.Hardware {
		return "software"
	}
	return fmt.Sprintf("hardware/%s", c.Decoder)
}

// SelectPath picks the decode/render pair from the policy, the platform's
// candidate kinds (descending priority), and the codec's own backend
// compatibility. Probe reports whether the backend actually initializes on
// this machine; a nil probe accepts every platform kind.
func SelectPath(policy PathPolicy, codecSupports func(HWKind) bool,
	probe func(HWKind) bool, log *slog.Logger) (PathChoice, error) {
	if log == nil {
		log = slog.Default()
	}
	if !policy.UseHardware {
		return PathChoice{Decoder: HWNone, Hardware: false}, nil
	}

	for _, kind := range PlatformKinds() {
		if allowed, ok := policy.Allowed[kind.String()]; ok && !allowed {
			continue
		}
		if codecSupports != nil && !codecSupports(kind) {
			continue
		}
		if probe != nil && !probe(kind) {
			continue
		}
		return PathChoice{Decoder: kind, Hardware: true}, nil
	}

	if policy.AllowFallback {
		// Silent except for this line; the session carries on in software.
		log.Info("hardware unavailable, falling back to software decode")
		return PathChoice{Decoder: HWNone, Hardware: false}, nil
	}
	return PathChoice{}, ErrNoHardwarePath
}
