package video

import "runtime"

// HWKind identifies a hardware decode backend. Kinds are platform-scoped;
// availability is checked at open when the render path is selected.
type HWKind uint8

const (
	HWNone HWKind = iota
	HWD3D11VA
	HWDXVA2
	HWVAAPI
	HWVDPAU
	HWVideoToolbox
	HWCUDA
)

// String returns the backend's conventional name, usable as a config key
// suffix (render.hardware.allow_<name>).
func (k HWKind) String() string {
	switch k {
	case HWNone:
		return "none"
	case HWD3D11VA:
		return "d3d11va"
	case HWDXVA2:
		return "dxva2"
	case HWVAAPI:
		return "vaapi"
	case HWVDPAU:
		return "vdpau"
	case HWVideoToolbox:
		return "videotoolbox"
	case HWCUDA:
		return "cuda"
	default:
		return "unknown"
	}
}

// Priority orders kinds within one platform; higher is preferred.
func (k HWKind) Priority() int {
	switch k {
	case HWD3D11VA, HWVAAPI, HWVideoToolbox:
		return 100
	case HWCUDA:
		return 80
	case HWDXVA2, HWVDPAU:
		return 60
	default:
		return 0
	}
}

// SupportedOnPlatform reports whether the kind can exist on the current
// OS at all. Runtime driver availability is probed separately by the host
// device factory.
func (k HWKind) SupportedOnPlatform() bool {
	switch k {
	case HWD3D11VA, HWDXVA2:
		return runtime.GOOS == "windows"
	case HWVAAPI, HWVDPAU:
		return runtime.GOOS == "linux"
	case HWVideoToolbox:
		return runtime.GOOS == "darwin" || runtime.GOOS == "ios"
	case HWCUDA:
		return runtime.GOOS == "windows" || runtime.GOOS == "linux"
	default:
		return false
	}
}

// PlatformKinds returns the kinds that can exist on this OS, ordered by
// descending priority.
func PlatformKinds() []HWKind {
	all := []HWKind{HWD3D11VA, HWVAAPI, HWVideoToolbox, HWCUDA, HWDXVA2, HWVDPAU}
	var out []HWKind
	for _, k := range all {
		if k.SupportedOnPlatform() {
			out = append(out, k)
		}
	}
	return out
}
