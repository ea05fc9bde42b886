package document

import (
	"github.com/automerge/automerge-sub002/op"
	"github.com/automerge/automerge-sub002/opset"
	"github.com/automerge/automerge-sub002/patch"
	"github.com/automerge/automerge-sub002/sequence"
	"github.com/automerge/automerge-sub002/value"
)

// Diff returns the patches that replay the document's state at
// fromHeads into its state at toHeads. The comparison walks the
// tree from the root, recursing into a key/index only when both sides
// resolve it to the same object identity; wherever the winning
// identity itself changed, the old value is deleted and the new one's
// full content is restaged as put/insert patches — the same flat shape
// PutObject/InsertObject already emit for "a fresh object landed here".
// This is a correct but non-minimal diff: it does not attempt to
// detect a moved/renamed object as anything other than a delete plus a
// fresh create.
func (d *Document) Diff(fromHeads, toHeads []op.Hash) ([]patch.Patch, error) {
	return d.DiffPath(patch.Path{}, fromHeads, toHeads, true)
}

// DiffPath is Diff scoped to start at path instead of the document
// root; recursive controls whether nested containers are compared too
// or only the object path itself names.
func (d *Document) DiffPath(path patch.Path, fromHeads, toHeads []op.Hash, recursive bool) ([]patch.Patch, error) {
	fromClock := d.eng.Clock(fromHeads)
	toClock := d.eng.Clock(toHeads)
	obj, kind, err := d.resolvePath(path, toClock)
	if err != nil {
		obj, kind, err = d.resolvePath(path, fromClock)
		if err != nil {
			return nil, err
		}
	}
	var out []patch.Patch
	d.diffObject(path, obj, kind, fromClock, toClock, recursive, &out)
	return out, nil
}

func (d *Document) diffObject(path patch.Path, obj op.ID, kind opset.ObjectKind, from, to op.Clock, recursive bool, out *[]patch.Patch) {
	switch kind {
	case opset.ObjMap:
		d.diffMap(path, obj, from, to, recursive, out)
	case opset.ObjText:
		d.diffText(path, obj, from, to, out)
	default:
		d.diffList(path, obj, from, to, recursive, out)
	}
}

// emitCreate restages the current content at obj/toOp as fresh
// put/insert-shaped patches, the same way From's buildMap does for a
// brand-new document.
func (d *Document) emitCreate(path patch.Path, o *op.Op, to op.Clock, out *[]patch.Patch) {
	if o.Action.IsMake() {
		*out = append(*out, patch.Patch{Action: patch.ActionPut, Path: append(patch.Path{}, path...)})
		d.diffObject(path, o.ID, kindFromAction(o.Action), op.Clock{}, to, true, out)
		return
	}
	*out = append(*out, patch.Patch{Action: patch.ActionPut, Path: append(patch.Path{}, path...), Value: o.Value})
}

func (d *Document) diffMap(path patch.Path, obj op.ID, from, to op.Clock, recursive bool, out *[]patch.Patch) {
	m := d.eng.Map(obj)
	seen := make(map[string]bool)
	for _, k := range m.Keys(to) {
		seen[k] = true
		childPath := append(append(patch.Path{}, path...), k)
		toOp, _ := m.GetOp(k, to)
		fromOp, hadBefore := m.GetOp(k, from)
		switch {
		case !hadBefore:
			d.emitCreate(childPath, toOp, to, out)
		case fromOp.ID != toOp.ID:
			*out = append(*out, patch.Patch{Action: patch.ActionDel, Path: childPath, Length: 1})
			d.emitCreate(childPath, toOp, to, out)
		case toOp.Action.IsMake() && recursive:
			d.diffObject(childPath, toOp.ID, kindFromAction(toOp.Action), from, to, recursive, out)
		}
	}
	for _, k := range m.Keys(from) {
		if seen[k] {
			continue
		}
		*out = append(*out, patch.Patch{Action: patch.ActionDel, Path: append(append(patch.Path{}, path...), k), Length: 1})
	}
}

type seqEditKind int

const (
	seqKeep seqEditKind = iota
	seqDelete
	seqInsert
)

type seqEdit struct {
	kind seqEditKind
	slot sequence.Slot
}

// lcsSequenceEdits aligns two ordered slot sequences by stable element
// identity (RGA slot id), via a textbook LCS table, and reports the
// keep/delete/insert edit script turning from into to.
func lcsSequenceEdits(from, to []sequence.Slot) []seqEdit {
	n, m := len(from), len(to)
	dp := make([][]int, n+1)
	for i := range dp {
		dp[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if from[i].ID == to[j].ID {
				dp[i][j] = dp[i+1][j+1] + 1
			} else if dp[i+1][j] >= dp[i][j+1] {
				dp[i][j] = dp[i+1][j]
			} else {
				dp[i][j] = dp[i][j+1]
			}
		}
	}
	var out []seqEdit
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case from[i].ID == to[j].ID:
			out = append(out, seqEdit{kind: seqKeep, slot: to[j]})
			i++
			j++
		case dp[i+1][j] >= dp[i][j+1]:
			out = append(out, seqEdit{kind: seqDelete})
			i++
		default:
			out = append(out, seqEdit{kind: seqInsert, slot: to[j]})
			j++
		}
	}
	for ; i < n; i++ {
		out = append(out, seqEdit{kind: seqDelete})
	}
	for ; j < m; j++ {
		out = append(out, seqEdit{kind: seqInsert, slot: to[j]})
	}
	return out
}

func (d *Document) diffList(path patch.Path, obj op.ID, from, to op.Clock, recursive bool, out *[]patch.Patch) {
	l := d.eng.List(obj)
	edits := lcsSequenceEdits(l.Visible(from), l.Visible(to))
	pos := 0
	for _, e := range edits {
		switch e.kind {
		case seqKeep:
			if recursive && e.slot.Content.Action.IsMake() {
				childPath := append(append(patch.Path{}, path...), pos)
				d.diffObject(childPath, e.slot.ID, kindFromAction(e.slot.Content.Action), from, to, recursive, out)
			}
			pos++
		case seqDelete:
			*out = append(*out, patch.Patch{Action: patch.ActionDel, Path: append(append(patch.Path{}, path...), pos), Length: 1})
		case seqInsert:
			childPath := append(append(patch.Path{}, path...), pos)
			if e.slot.Content.Action.IsMake() {
				idx := len(*out)
				d.emitCreate(childPath, e.slot.Content, to, out)
				// emitCreate's root patch defaults to Put semantics;
				// retag just that one as an insert-at-position so a
				// sequence target knows to grow rather than overwrite.
				(*out)[idx].Action = patch.ActionInsert
			} else {
				*out = append(*out, patch.Patch{Action: patch.ActionInsert, Path: childPath, Values: []value.Value{e.slot.Content.Value}})
			}
			pos++
		}
	}
}

func utf16RuneWidth(r rune) int {
	if r > 0xFFFF {
		return 2
	}
	return 1
}

func utf16Len(rs []rune) int {
	n := 0
	for _, r := range rs {
		n += utf16RuneWidth(r)
	}
	return n
}

func (d *Document) diffText(path patch.Path, obj op.ID, from, to op.Clock, out *[]patch.Patch) {
	t := d.eng.Text(obj)
	fromText := t.Materialize(from)
	toText := t.Materialize(to)
	if fromText == toText {
		return
	}
	fromRunes := []rune(fromText)
	toRunes := []rune(toText)
	prefix := 0
	for prefix < len(fromRunes) && prefix < len(toRunes) && fromRunes[prefix] == toRunes[prefix] {
		prefix++
	}
	fromEnd, toEnd := len(fromRunes), len(toRunes)
	for fromEnd > prefix && toEnd > prefix && fromRunes[fromEnd-1] == toRunes[toEnd-1] {
		fromEnd--
		toEnd--
	}
	deleteCount := utf16Len(fromRunes[prefix:fromEnd])
	insText := string(toRunes[prefix:toEnd])
	pos := utf16Len(fromRunes[:prefix])
	*out = append(*out, patch.Patch{
		Action: patch.ActionSplice, Path: append(patch.Path{}, path...),
		Pos: pos, Text: insText, Length: deleteCount,
	})
}
