package tracer

import "github.com/tripwire/passover/internal/codec"

// OnPyFuncCall interns site, captures up to MaxArgs argument values via
// render (called once per argument index in [0, min(numArgs, MaxArgs))),
// emits PyFuncCall, and increments depth. render failures are soft: a
// failing call is recorded as Argument Undumpable and tracing continues
// (spec.md §4.5).
func (t *Tracer) OnPyFuncCall(site PyFuncSite, numArgs int, render func(i int) (codec.Argument, error)) {
	if !t.active.Load() {
		return
	}
	cpIndex := t.intern(site)
	skip, mask := t.suppressed(cpIndex)
	if (mask == IgnoreChildren || mask == IgnoreWhole) && t.ignoreFloor < 0 {
		t.ignoreFloor = int(t.depth)
	}

	n := numArgs
	if n > t.maxArgs {
		n = t.maxArgs
	}
	depth := t.depth
	t.incDepth()

	if skip {
		return
	}

	args := make([]codec.Argument, n)
	for i := 0; i < n; i++ {
		a, err := render(i)
		if err != nil {
			a = codec.ArgUndumpable()
		}
		args[i] = a
	}

	t.emit(codec.Record{
		Type:      codec.TypePyFuncCall,
		Depth:     depth,
		Timestamp: t.clock.Now(),
		CPIndex:   cpIndex,
		Args:      args,
	})
}

// OnPyFuncReturn emits PyFuncRet with retval rendered via render (soft
// failure as in OnPyFuncCall) and decrements depth.
func (t *Tracer) OnPyFuncReturn(site PyFuncSite, render func() (codec.Argument, error)) {
	if !t.active.Load() {
		return
	}
	cpIndex := t.intern(site)
	skip, _ := t.suppressed(cpIndex)
	t.decDepth()
	if skip {
		t.closeIgnoreFloorIfExited()
		return
	}

	retval, err := render()
	if err != nil {
		retval = codec.ArgUndumpable()
	}
	t.emit(codec.Record{
		Type:      codec.TypePyFuncRet,
		Depth:     t.depth,
		Timestamp: t.clock.Now(),
		CPIndex:   cpIndex,
		Retval:    retval,
	})
	t.closeIgnoreFloorIfExited()
}

// OnPyFuncRaise emits PyFuncRaise and decrements depth.
func (t *Tracer) OnPyFuncRaise(site PyFuncSite) {
	if !t.active.Load() {
		return
	}
	cpIndex := t.intern(site)
	skip, _ := t.suppressed(cpIndex)
	t.decDepth()
	if !skip {
		t.emit(codec.Record{Type: codec.TypePyFuncRaise, Depth: t.depth, Timestamp: t.clock.Now(), CPIndex: cpIndex})
	}
	t.closeIgnoreFloorIfExited()
}

// OnCFuncCall interns site as a CFuncCodepoint, emits CFuncCall, and
// increments depth.
func (t *Tracer) OnCFuncCall(site CFuncSite) {
	if !t.active.Load() {
		return
	}
	cpIndex := t.intern(site)
	skip, mask := t.suppressed(cpIndex)
	if (mask == IgnoreChildren || mask == IgnoreWhole) && t.ignoreFloor < 0 {
		t.ignoreFloor = int(t.depth)
	}
	depth := t.depth
	t.incDepth()
	if skip {
		return
	}
	t.emit(codec.Record{Type: codec.TypeCFuncCall, Depth: depth, Timestamp: t.clock.Now(), CPIndex: cpIndex})
}

// OnCFuncReturn emits CFuncRet and decrements depth.
func (t *Tracer) OnCFuncReturn(site CFuncSite) {
	if !t.active.Load() {
		return
	}
	cpIndex := t.intern(site)
	skip, _ := t.suppressed(cpIndex)
	t.decDepth()
	if !skip {
		t.emit(codec.Record{Type: codec.TypeCFuncRet, Depth: t.depth, Timestamp: t.clock.Now(), CPIndex: cpIndex})
	}
	t.closeIgnoreFloorIfExited()
}

// OnCFuncRaise emits CFuncRaise and decrements depth.
func (t *Tracer) OnCFuncRaise(site CFuncSite) {
	if !t.active.Load() {
		return
	}
	cpIndex := t.intern(site)
	skip, _ := t.suppressed(cpIndex)
	t.decDepth()
	if !skip {
		t.emit(codec.Record{Type: codec.TypeCFuncRaise, Depth: t.depth, Timestamp: t.clock.Now(), CPIndex: cpIndex})
	}
	t.closeIgnoreFloorIfExited()
}

// Log interns site keyed by its format string and emits a LogRecord
// carrying args verbatim (already-rendered strings; spec.md §3: a
// LogRecord's args are a u16-prefixed list of raw strings, not
// Arguments).
func (t *Tracer) Log(site LoglineSite, args [][]byte) {
	if !t.active.Load() {
		return
	}
	cpIndex := t.intern(site)
	if skip, _ := t.suppressed(cpIndex); skip {
		return
	}
	t.emit(codec.Record{
		Type:      codec.TypeLogRecord,
		Depth:     t.depth,
		Timestamp: t.clock.Now(),
		CPIndex:   cpIndex,
		LogArgs:   args,
	})
}

// closeIgnoreFloorIfExited clears ignoreFloor once depth has unwound
// back to (or below) the call that set it.
func (t *Tracer) closeIgnoreFloorIfExited() {
	if t.ignoreFloor >= 0 && int(t.depth) <= t.ignoreFloor {
		t.ignoreFloor = -1
	}
}
