package video

import "github.com/lumenplay/lumen/media"

// UIRunner is the host's thread-marshaling capability. RunOnUI executes fn
// on the UI thread and returns only after fn completes; OnUIThread lets
// the proxy skip the marshal when the caller is already there.
type UIRunner interface {
	OnUIThread() bool
	RunOnUI(fn func())
}

// uiProxy enforces renderer thread affinity: every call is executed on the
// UI thread, marshaled synchronously when the caller is elsewhere.
type uiProxy struct {
	inner Renderer
	ui    UIRunner
}

// OnUIThread wraps r so all renderer calls run on the host UI thread.
func OnUIThread(r Renderer, ui UIRunner) Renderer {
	if ui == nil {
		return r
	}
	return &uiProxy{inner: r, ui: ui}
}

func (p *uiProxy) call(fn func()) {
	if p.ui.OnUIThread() {
		fn()
		return
	}
	p.ui.RunOnUI(fn)
}

func (p *uiProxy) Init(window WindowHandle, width, height int) error {
	var err error
	p.call(func() { err = p.inner.Init(window, width, height) })
	return err
}

func (p *uiProxy) Resize(width, height int) {
	p.call(func() { p.inner.Resize(width, height) })
}

func (p *uiProxy) Clear() {
	p.call(func() { p.inner.Clear() })
}

func (p *uiProxy) RenderFrame(f *media.VideoFrame) bool {
	var ok bool
	p.call(func() { ok = p.inner.RenderFrame(f) })
	return ok
}

func (p *uiProxy) Present() {
	p.call(func() { p.inner.Present() })
}

func (p *uiProxy) ClearCaches() {
	p.call(func() { p.inner.ClearCaches() })
}

func (p *uiProxy) Cleanup() {
	p.call(func() { p.inner.Cleanup() })
}
