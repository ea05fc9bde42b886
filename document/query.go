package document

import (
	"fmt"

	"github.com/automerge/automerge-sub002/errs"
	"github.com/automerge/automerge-sub002/op"
	"github.com/automerge/automerge-sub002/opset"
	"github.com/automerge/automerge-sub002/patch"
	"github.com/automerge/automerge-sub002/sequence"
	"github.com/automerge/automerge-sub002/value"
)

func pathString(p patch.Path) string {
	s := ""
	for _, seg := range p {
		s += fmt.Sprintf("/%v", seg)
	}
	return s
}

func asInt(seg any) (int, bool) {
	switch v := seg.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	default:
		return 0, false
	}
}

func kindFromAction(a op.Action) opset.ObjectKind {
	switch a {
	case op.ActionMakeList:
		return opset.ObjList
	case op.ActionMakeText:
		return opset.ObjText
	default:
		return opset.ObjMap
	}
}

// resolvePath walks path from the root, descending into a child object
// at each segment (a map key or a sequence index), and returns the
// object the full path names. Every intermediate segment must resolve
// to a visible nested object at clock; the final segment may itself be
// a leaf, in which case callers use resolveParent instead.
func (d *Document) resolvePath(path patch.Path, clock op.Clock) (op.ID, opset.ObjectKind, error) {
	obj := op.Root
	kind := opset.ObjMap
	for i, seg := range path {
		switch kind {
		case opset.ObjMap:
			key, ok := seg.(string)
			if !ok {
				return op.ID{}, 0, errs.New(errs.InvalidInput, "expected map key at path segment %d", i).WithPath(pathString(path))
			}
			m := d.eng.Map(obj)
			o, ok := m.GetOp(key, clock)
			if !ok || !o.Action.IsMake() {
				return op.ID{}, 0, errs.New(errs.InvalidInput, "no object at key %q", key).WithPath(pathString(path))
			}
			obj, kind = o.ID, kindFromAction(o.Action)
		case opset.ObjList, opset.ObjText:
			idx, ok := asInt(seg)
			if !ok {
				return op.ID{}, 0, errs.New(errs.InvalidInput, "expected sequence index at path segment %d", i).WithPath(pathString(path))
			}
			l := d.eng.List(obj)
			slot, ok := l.SlotAtPosition(idx, clock)
			if !ok || !slot.Content.Action.IsMake() {
				return op.ID{}, 0, errs.New(errs.InvalidInput, "no object at index %d", idx).WithPath(pathString(path))
			}
			obj, kind = slot.ID, kindFromAction(slot.Content.Action)
		}
	}
	return obj, kind, nil
}

// resolveParent splits path into the container its last segment
// addresses and the segment itself, resolving the container via
// resolvePath.
func (d *Document) resolveParent(path patch.Path, clock op.Clock) (obj op.ID, kind opset.ObjectKind, last any, err error) {
	if len(path) == 0 {
		return op.ID{}, 0, nil, errs.New(errs.InvalidInput, "path must not be empty")
	}
	obj, kind, err = d.resolvePath(path[:len(path)-1], clock)
	if err != nil {
		return op.ID{}, 0, nil, err
	}
	return obj, kind, path[len(path)-1], nil
}

// Get returns the scalar at path. path must name a map key or
// sequence index whose winner is a scalar; resolving through or to a
// nested object reports ok=false (use the path's object form instead).
func (d *Document) Get(path patch.Path) (value.Value, bool, error) {
	return d.getAt(path, d.eng.HeadsClock())
}

func (d *Document) getAt(path patch.Path, clock op.Clock) (value.Value, bool, error) {
	obj, kind, last, err := d.resolveParent(path, clock)
	if err != nil {
		return value.Value{}, false, err
	}
	switch kind {
	case opset.ObjMap:
		key, ok := last.(string)
		if !ok {
			return value.Value{}, false, errs.New(errs.InvalidInput, "expected map key").WithPath(pathString(path))
		}
		v, ok := d.eng.Map(obj).Get(key, clock)
		return v, ok, nil
	default:
		idx, ok := last.(int)
		if !ok {
			return value.Value{}, false, errs.New(errs.InvalidInput, "expected sequence index").WithPath(pathString(path))
		}
		slot, ok := d.eng.List(obj).SlotAtPosition(idx, clock)
		if !ok || slot.Content.Action.IsMake() {
			return value.Value{}, false, nil
		}
		return slot.Content.Value, true, nil
	}
}

// Keys returns the sorted visible keys of the map object at path.
func (d *Document) Keys(path patch.Path) ([]string, error) { return d.keysAt(path, d.eng.HeadsClock()) }

func (d *Document) keysAt(path patch.Path, clock op.Clock) ([]string, error) {
	obj, kind, err := d.resolvePath(path, clock)
	if err != nil {
		return nil, err
	}
	if kind != opset.ObjMap {
		return nil, errs.New(errs.InvalidInput, "not a map object").WithPath(pathString(path))
	}
	return d.eng.Map(obj).Keys(clock), nil
}

// Length returns the visible element count of the list/text object at
// path.
func (d *Document) Length(path patch.Path) (int, error) {
	return d.lengthAt(path, d.eng.HeadsClock())
}

func (d *Document) lengthAt(path patch.Path, clock op.Clock) (int, error) {
	obj, kind, err := d.resolvePath(path, clock)
	if err != nil {
		return 0, err
	}
	if kind == opset.ObjMap {
		return d.eng.Map(obj).Length(clock), nil
	}
	return d.eng.List(obj).Length(clock), nil
}

// Text materializes the text object at path.
func (d *Document) Text(path patch.Path) (string, error) { return d.textAt(path, d.eng.HeadsClock()) }

func (d *Document) textAt(path patch.Path, clock op.Clock) (string, error) {
	obj, kind, err := d.resolvePath(path, clock)
	if err != nil {
		return "", err
	}
	if kind != opset.ObjText {
		return "", errs.New(errs.InvalidInput, "not a text object").WithPath(pathString(path))
	}
	return d.eng.Text(obj).Materialize(clock), nil
}

// Marks returns the resolved mark spans of the text object at path.
func (d *Document) Marks(path patch.Path) ([]sequence.MarkSpan, error) {
	return d.marksAt(path, d.eng.HeadsClock())
}

func (d *Document) marksAt(path patch.Path, clock op.Clock) ([]sequence.MarkSpan, error) {
	obj, kind, err := d.resolvePath(path, clock)
	if err != nil {
		return nil, err
	}
	if kind != opset.ObjText {
		return nil, errs.New(errs.InvalidInput, "not a text object").WithPath(pathString(path))
	}
	return d.eng.Text(obj).Marks(clock), nil
}

// Cursor creates a stable cursor at a UTF-16 offset in the text object
// at path.
func (d *Document) Cursor(path patch.Path, u16 int, side sequence.CursorSide) (value.Value, error) {
	return d.cursorAt(path, u16, side, d.eng.HeadsClock())
}

func (d *Document) cursorAt(path patch.Path, u16 int, side sequence.CursorSide, clock op.Clock) (value.Value, error) {
	obj, kind, err := d.resolvePath(path, clock)
	if err != nil {
		return value.Value{}, err
	}
	if kind != opset.ObjText {
		return value.Value{}, errs.New(errs.InvalidInput, "not a text object").WithPath(pathString(path))
	}
	return d.eng.Text(obj).MakeCursor(d.eng.Nonce(), u16, side, clock), nil
}

// CursorPosition resolves a cursor scalar back to a current UTF-16
// offset in the text object at path; ok is false if the cursor names a
// position not visible at clock (e.g. inserted by a not-yet-applied
// change) or was issued by a different document.
func (d *Document) CursorPosition(path patch.Path, c value.Value) (int, bool, error) {
	return d.cursorPositionAt(path, c, d.eng.HeadsClock())
}

func (d *Document) cursorPositionAt(path patch.Path, c value.Value, clock op.Clock) (int, bool, error) {
	obj, kind, err := d.resolvePath(path, clock)
	if err != nil {
		return 0, false, err
	}
	if kind != opset.ObjText {
		return 0, false, errs.New(errs.InvalidInput, "not a text object").WithPath(pathString(path))
	}
	pos, ok := d.eng.Text(obj).ResolveCursorUTF16(d.eng.Nonce(), c, clock)
	return pos, ok, nil
}

// toJSAt materializes the whole document tree at clock.
func (d *Document) toJSAt(clock op.Clock) any {
	return d.valueAt(op.Root, opset.ObjMap, clock)
}

// valueAt recursively materializes obj (of the given kind) into a plain
// Go value, the shape ToJS (and View.ToJS, via toJSAt) returns.
func (d *Document) valueAt(obj op.ID, kind opset.ObjectKind, clock op.Clock) any {
	switch kind {
	case opset.ObjMap:
		m := d.eng.Map(obj)
		out := make(map[string]any)
		for _, k := range m.Keys(clock) {
			o, ok := m.GetOp(k, clock)
			if !ok {
				continue
			}
			if o.Action.IsMake() {
				out[k] = d.valueAt(o.ID, kindFromAction(o.Action), clock)
			} else {
				v, _ := m.Get(k, clock)
				out[k] = v.ToAny()
			}
		}
		return out
	case opset.ObjText:
		return d.eng.Text(obj).Materialize(clock)
	default:
		l := d.eng.List(obj)
		vis := l.Visible(clock)
		out := make([]any, 0, len(vis))
		for _, s := range vis {
			if s.Content.Action.IsMake() {
				out = append(out, d.valueAt(s.ID, kindFromAction(s.Content.Action), clock))
			} else {
				out = append(out, s.Content.Value.ToAny())
			}
		}
		return out
	}
}
