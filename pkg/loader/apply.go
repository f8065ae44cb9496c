package loader

import (
	"github.com/zurustar/kagami/pkg/value"
)

// complete applies a fetch result on the script thread. Script run by the
// payload or the callbacks may start, cancel or unload loads, so the entry
// is copied first and looked up again before its state changes.
func (mgr *Manager) complete(h Handle, res result) {
	e, ok := mgr.get(h)
	if !ok || e.status != StatusPending {
		mgr.log.Debug("late load result dropped", "handle", h.String())
		return
	}
	job := *e

	err := res.err
	if err == nil {
		err = mgr.apply(&job, res)
	}
	e, ok = mgr.get(h)
	if !ok {
		mgr.log.Debug("load cancelled while its result was applied", "handle", h.String(), "url", job.url)
		return
	}
	defer mgr.m.Release(job.target)
	e.target = value.Undefined
	if err != nil {
		e.status = StatusFailed
		mgr.log.Warn("load failed", "handle", h.String(), "kind", job.kind.String(), "url", job.url, "error", err)
	} else {
		e.status = StatusSucceeded
		mgr.log.Debug("load finished", "handle", h.String(), "url", job.url, "bytes", len(res.data))
	}
	job.cancel()
	mgr.notify(&job, res, err == nil)
}

// apply stores the payload on the target before any handler runs.
func (mgr *Manager) apply(e *entry, res result) error {
	h := mgr.m.Heap()
	target := e.target
	switch e.kind {
	case KindVariables:
		return mgr.setVariables(target, res.data)
	case KindData:
		n := value.Int(len(res.data))
		h.DefineProperty(target, "_bytesTotal", n, value.DontEnum)
		h.DefineProperty(target, "_bytesLoaded", n, value.DontEnum)
		if e.format == FormatVariables && !mgr.hasHandler(target, "onData") {
			return mgr.setVariables(target, res.data)
		}
	case KindImage:
		if mgr.onImage != nil {
			return mgr.onImage(mgr.m, target, res.img, res.ct)
		}
	case KindSound:
		if mgr.onSound != nil {
			return mgr.onSound(mgr.m, target, res.clip)
		}
	}
	return nil
}

func (mgr *Manager) setVariables(target value.Value, data []byte) error {
	vars, err := ParseVariables(data, mgr.codepage)
	if err != nil {
		return err
	}
	h := mgr.m.Heap()
	for _, v := range vars {
		if err := h.SetProperty(target, v.Name, value.String(v.Value)); err != nil {
			return err
		}
	}
	return nil
}

// notify runs the script callbacks of a finished load. A variables load
// fires onData once the values are in place. A data load passes the body
// to onData when the object defines one and otherwise fires onLoad. Image
// and sound loads fire onLoad.
func (mgr *Manager) notify(e *entry, res result, success bool) {
	target := e.target
	switch e.kind {
	case KindVariables:
		if success {
			mgr.call(target, "onData")
		}
	case KindData:
		if mgr.hasHandler(target, "onData") {
			mgr.call(target, "onData", mgr.body(e, res, success))
			return
		}
		if success && e.format != FormatVariables {
			if err := mgr.m.Heap().SetProperty(target, "data", mgr.body(e, res, success)); err != nil {
				mgr.log.Warn("load result not stored", "url", e.url, "error", err)
			}
		}
		mgr.call(target, "onLoad", value.Bool(success))
	default:
		mgr.call(target, "onLoad", value.Bool(success))
	}
}

// body is the script view of a data load: undefined on failure or when
// empty, an array of byte values for binary data, a string otherwise.
func (mgr *Manager) body(e *entry, res result, success bool) value.Value {
	if !success || len(res.data) == 0 {
		return value.Undefined
	}
	if e.format == FormatBinary {
		vals := make([]value.Value, len(res.data))
		for i, b := range res.data {
			vals[i] = value.Int(int(b))
		}
		return mgr.m.Heap().NewArray(vals)
	}
	return value.String(string(res.data))
}

func (mgr *Manager) hasHandler(target value.Value, name string) bool {
	h := mgr.m.Heap()
	fn, err := h.GetProperty(target, name)
	return err == nil && h.IsCallable(fn)
}

// call invokes target[name] as a top-level entry point. Missing handlers
// are skipped; script errors go to the machine's uncaught channel.
func (mgr *Manager) call(target value.Value, name string, args ...value.Value) {
	h := mgr.m.Heap()
	fn, err := h.GetProperty(target, name)
	if err != nil || !h.IsCallable(fn) {
		return
	}
	mgr.m.InvokeEntryPoint(mgr.ctx, fn, target, args)
}
