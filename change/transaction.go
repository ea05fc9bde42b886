package change

import (
	"github.com/automerge/automerge-sub002/codec"
	"github.com/automerge/automerge-sub002/crdtmap"
	"github.com/automerge/automerge-sub002/errs"
	"github.com/automerge/automerge-sub002/op"
	"github.com/automerge/automerge-sub002/opset"
	"github.com/automerge/automerge-sub002/patch"
	"github.com/automerge/automerge-sub002/value"
)

// Transaction stages one atomic batch of local edits. Ops are inserted
// into the engine's op-set as they're issued (so CurrentPred-style
// queries made later in the same transaction see earlier-issued
// siblings), and unwound in reverse on Rollback.
type Transaction struct {
	eng      *Engine
	actorIdx uint32
	start    uint64
	counter  uint64
	deps     []op.Hash
	ops      []op.Op
	patches  []patch.Patch
	message  string
	time     int64
	done     bool
}

// Transaction begins a new local transaction against the engine's
// current heads.
func (e *Engine) Transaction() *Transaction {
	start := e.maxCounter[0] + 1
	return &Transaction{
		eng:     e,
		start:   start,
		counter: start,
		deps:    e.Heads(),
	}
}

// SetMessage attaches the change's free-text commit message.
func (tx *Transaction) SetMessage(msg string) { tx.message = msg }

// SetTime attaches the change's timestamp (seconds since epoch; 0 means
// unset).
func (tx *Transaction) SetTime(t int64) { tx.time = t }

// Patches returns the patches recorded so far, for a caller that wants
// to inspect them before Commit (e.g. to build a combined patch batch
// across several transactions).
func (tx *Transaction) Patches() []patch.Patch { return append([]patch.Patch(nil), tx.patches...) }

func (tx *Transaction) checkOpen() error {
	if tx.done {
		return errs.New(errs.StateError, "transaction already committed or rolled back")
	}
	return nil
}

func (tx *Transaction) nextID() op.ID {
	id := op.ID{Counter: tx.counter, Actor: tx.actorIdx}
	tx.counter++
	return id
}

// insert threads a freshly-built op into the op-set (and the RGA order,
// if it targets a sequence object) and records it for rollback/commit.
func (tx *Transaction) insert(o op.Op) (op.ID, error) {
	if err := tx.eng.set.Insert(&o); err != nil {
		return op.ID{}, err
	}
	if o.Insert {
		if kind, ok := tx.eng.set.ObjectKind(o.Obj); ok && kind != opset.ObjMap {
			tx.eng.seq.ApplyInsert(o.Obj, &o)
		}
	}
	tx.ops = append(tx.ops, o)
	return o.ID, nil
}

func kindForContainer(c value.Container) opset.ObjectKind {
	switch c {
	case value.ContainerList:
		return opset.ObjList
	case value.ContainerText:
		return opset.ObjText
	default:
		return opset.ObjMap
	}
}

func actionForContainer(c value.Container) op.Action {
	switch c {
	case value.ContainerList:
		return op.ActionMakeList
	case value.ContainerText:
		return op.ActionMakeText
	default:
		return op.ActionMakeMap
	}
}

// Put assigns a scalar to a map key, superseding any currently-visible
// writer(s) for that key.
func (tx *Transaction) Put(obj op.ID, key string, v value.Value, path patch.Path) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	m := crdtmap.New(tx.eng.set, obj)
	o := op.Op{ID: tx.nextID(), Obj: obj, Action: op.ActionSet, Key: op.MapKey(key), Value: v, Pred: m.CurrentPred(key)}
	if _, err := tx.insert(o); err != nil {
		return err
	}
	tx.patches = append(tx.patches, patch.Patch{Action: patch.ActionPut, Path: path, Value: v})
	return nil
}

// PutObject creates a new nested map/list/text at a map key, superseding
// any current writer(s) for that key, and returns the new object's id.
func (tx *Transaction) PutObject(obj op.ID, key string, kind value.Container, path patch.Path) (op.ID, error) {
	if err := tx.checkOpen(); err != nil {
		return op.ID{}, err
	}
	m := crdtmap.New(tx.eng.set, obj)
	o := op.Op{ID: tx.nextID(), Obj: obj, Action: actionForContainer(kind), Key: op.MapKey(key), Pred: m.CurrentPred(key)}
	id, err := tx.insert(o)
	if err != nil {
		return op.ID{}, err
	}
	tx.patches = append(tx.patches, patch.Patch{Action: patch.ActionPut, Path: path})
	return id, nil
}

// Delete removes a map key: an ActionDelete op citing every
// currently-live writer as Pred, closing them out without introducing a
// new visible value. A no-op if the key is already absent.
func (tx *Transaction) Delete(obj op.ID, key string, path patch.Path) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	m := crdtmap.New(tx.eng.set, obj)
	pred := m.CurrentPred(key)
	if _, live := m.GetOp(key, tx.eng.HeadsClock()); !live || len(pred) == 0 {
		return nil
	}
	o := op.Op{ID: tx.nextID(), Obj: obj, Action: op.ActionDelete, Key: op.MapKey(key), Pred: pred}
	if _, err := tx.insert(o); err != nil {
		return err
	}
	tx.patches = append(tx.patches, patch.Patch{Action: patch.ActionDel, Path: path, Length: 1})
	return nil
}

// Insert adds a scalar at a list position (0-based, insert-before), per
// the RGA insertion rule.
func (tx *Transaction) Insert(obj op.ID, pos int, v value.Value, path patch.Path) (op.ID, error) {
	if err := tx.checkOpen(); err != nil {
		return op.ID{}, err
	}
	l := tx.eng.List(obj)
	anchor := l.AnchorForPosition(pos, tx.eng.HeadsClock())
	o := op.Op{ID: tx.nextID(), Obj: obj, Action: op.ActionSet, Key: op.SeqKey(anchor), Insert: true, Value: v}
	id, err := tx.insert(o)
	if err != nil {
		return op.ID{}, err
	}
	tx.patches = append(tx.patches, patch.Patch{Action: patch.ActionInsert, Path: path, Values: []value.Value{v}})
	return id, nil
}

// InsertObject inserts a new nested map/list/text at a list position.
func (tx *Transaction) InsertObject(obj op.ID, pos int, kind value.Container, path patch.Path) (op.ID, error) {
	if err := tx.checkOpen(); err != nil {
		return op.ID{}, err
	}
	l := tx.eng.List(obj)
	anchor := l.AnchorForPosition(pos, tx.eng.HeadsClock())
	o := op.Op{ID: tx.nextID(), Obj: obj, Action: actionForContainer(kind), Key: op.SeqKey(anchor), Insert: true}
	id, err := tx.insert(o)
	if err != nil {
		return op.ID{}, err
	}
	tx.patches = append(tx.patches, patch.Patch{Action: patch.ActionInsert, Path: path})
	return id, nil
}

// RemoveAt deletes the visible element at pos from a plain (non-text)
// list, hiding its slot without disturbing the RGA order other inserts
// anchor against. A no-op if pos names no visible element.
func (tx *Transaction) RemoveAt(obj op.ID, pos int, path patch.Path) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	l := tx.eng.List(obj)
	clock := tx.eng.HeadsClock()
	slot, ok := l.SlotAtPosition(pos, clock)
	if !ok {
		return nil
	}
	pred := l.CurrentPred(slot.ID)
	if len(pred) == 0 {
		return nil
	}
	o := op.Op{ID: tx.nextID(), Obj: obj, Action: op.ActionDelete, Key: op.SeqKey(op.ElemKey{ElemID: slot.ID}), Pred: pred}
	if _, err := tx.insert(o); err != nil {
		return err
	}
	tx.patches = append(tx.patches, patch.Patch{Action: patch.ActionDel, Path: path, Length: 1})
	return nil
}

// Splice edits a text object: deletes deleteCount characters starting at
// pos (a UTF-16 offset), then inserts text at that position.
func (tx *Transaction) Splice(obj op.ID, pos int, deleteCount int, text string, path patch.Path) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	t := tx.eng.Text(obj)

	for i := 0; i < deleteCount; i++ {
		clock := tx.eng.HeadsClock()
		chars := t.CharSlots(clock)
		p := t.PositionAtUTF16(pos, clock)
		if p >= len(chars) {
			break
		}
		slot := chars[p]
		pred := t.CurrentPred(slot.ID)
		if len(pred) == 0 {
			continue
		}
		o := op.Op{ID: tx.nextID(), Obj: obj, Action: op.ActionDelete, Key: op.SeqKey(op.ElemKey{ElemID: slot.ID}), Pred: pred}
		if _, err := tx.insert(o); err != nil {
			return err
		}
	}

	for _, r := range text {
		clock := tx.eng.HeadsClock()
		charPos := t.PositionAtUTF16(pos, clock)
		anchor := t.AnchorForCharPosition(charPos, clock)
		o := op.Op{ID: tx.nextID(), Obj: obj, Action: op.ActionSet, Key: op.SeqKey(anchor), Insert: true, Value: value.Str(string(r))}
		if _, err := tx.insert(o); err != nil {
			return err
		}
		pos += utf16RuneWidth(r)
	}

	tx.patches = append(tx.patches, patch.Patch{Action: patch.ActionSplice, Path: path, Pos: pos - utf16TextWidth(text), Text: text, Length: deleteCount})
	return nil
}

func utf16RuneWidth(r rune) int {
	if r > 0xFFFF {
		return 2
	}
	return 1
}

func utf16TextWidth(s string) int {
	n := 0
	for _, r := range s {
		n += utf16RuneWidth(r)
	}
	return n
}

// Increment adds delta to a counter value at a map key.
func (tx *Transaction) Increment(obj op.ID, key string, delta int64, path patch.Path) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	m := crdtmap.New(tx.eng.set, obj)
	base, ok := m.Get(key, tx.eng.HeadsClock())
	if !ok || base.Kind() != value.KindCounter {
		return errs.New(errs.InvalidInput, "key %q is not a counter", key).WithPath(key)
	}
	o := op.Op{ID: tx.nextID(), Obj: obj, Action: op.ActionIncrement, Key: op.MapKey(key), Delta: delta}
	if _, err := tx.insert(o); err != nil {
		return err
	}
	tx.patches = append(tx.patches, patch.Patch{Action: patch.ActionInc, Path: path, Value: value.Int(delta)})
	return nil
}

// Mark applies a named mark over [startPos,endPos) UTF-16 offsets of a
// text object. An empty-valued Unmark is issued via Unmark.
func (tx *Transaction) Mark(obj op.ID, startPos, endPos int, name string, v value.Value, expand op.Expand, path patch.Path) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	t := tx.eng.Text(obj)
	clock := tx.eng.HeadsClock()
	start := t.ElemKeyAtUTF16(startPos, clock)
	end := t.EndAnchorForUTF16(endPos, clock)
	pred := t.BuildMarkPred(name, startPos, endPos, clock)
	o := op.Op{
		ID: tx.nextID(), Obj: obj, Action: op.ActionMarkBegin, Key: op.MapKey(""), Pred: pred,
		Expand: expand, MarkName: name, MarkValue: v, MarkStart: start, MarkEnd: end,
	}
	if _, err := tx.insert(o); err != nil {
		return err
	}
	tx.patches = append(tx.patches, patch.Patch{
		Action: patch.ActionMark, Path: path,
		Marks: []patch.MarkSpec{{Name: name, Value: v, Start: startPos, End: endPos}},
	})
	return nil
}

// Unmark removes a named mark over [startPos,endPos), closing out every
// currently-visible mark op on name whose range overlaps.
func (tx *Transaction) Unmark(obj op.ID, startPos, endPos int, name string, path patch.Path) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	t := tx.eng.Text(obj)
	clock := tx.eng.HeadsClock()
	start := t.ElemKeyAtUTF16(startPos, clock)
	end := t.EndAnchorForUTF16(endPos, clock)
	pred := t.BuildMarkPred(name, startPos, endPos, clock)
	if len(pred) == 0 {
		return nil
	}
	o := op.Op{
		ID: tx.nextID(), Obj: obj, Action: op.ActionMarkBegin, Key: op.MapKey(""), Pred: pred,
		MarkName: name, MarkValue: value.Null, MarkStart: start, MarkEnd: end,
	}
	if _, err := tx.insert(o); err != nil {
		return err
	}
	tx.patches = append(tx.patches, patch.Patch{Action: patch.ActionUnmark, Path: path, MarkName: name, Start: startPos, End: endPos})
	return nil
}

// SplitBlock inserts a block marker (a nested map object occupying one
// text slot) at a character position.
func (tx *Transaction) SplitBlock(obj op.ID, pos int, blockType string, parents []string, path patch.Path) (op.ID, error) {
	if err := tx.checkOpen(); err != nil {
		return op.ID{}, err
	}
	t := tx.eng.Text(obj)
	clock := tx.eng.HeadsClock()
	anchor := t.AnchorForCharPosition(pos, clock)
	o := op.Op{ID: tx.nextID(), Obj: obj, Action: op.ActionMakeMap, Key: op.SeqKey(anchor), Insert: true}
	id, err := tx.insert(o)
	if err != nil {
		return op.ID{}, err
	}

	blockObj := crdtmap.New(tx.eng.set, id)
	typeOp := op.Op{ID: tx.nextID(), Obj: id, Action: op.ActionSet, Key: op.MapKey("type"), Value: value.Str(blockType), Pred: blockObj.CurrentPred("type")}
	if _, err := tx.insert(typeOp); err != nil {
		return op.ID{}, err
	}
	parentVals := make([]value.Value, len(parents))
	for i, p := range parents {
		parentVals[i] = value.Str(p)
	}
	parentsObj := op.Op{ID: tx.nextID(), Obj: id, Action: op.ActionMakeList, Key: op.MapKey("parents"), Pred: blockObj.CurrentPred("parents")}
	parentsID, err := tx.insert(parentsObj)
	if err != nil {
		return op.ID{}, err
	}
	parentsList := tx.eng.List(parentsID)
	for i, pv := range parentVals {
		anchor := parentsList.AnchorForPosition(i, tx.eng.HeadsClock())
		po := op.Op{ID: tx.nextID(), Obj: parentsID, Action: op.ActionSet, Key: op.SeqKey(anchor), Insert: true, Value: pv}
		if _, err := tx.insert(po); err != nil {
			return op.ID{}, err
		}
	}

	tx.patches = append(tx.patches, patch.Patch{
		Action: patch.ActionSplitBlock, Path: path,
		Block: &patch.BlockSpec{Type: blockType, Parents: parents},
	})
	return id, nil
}

// Commit finalizes the transaction into a single Change, advances the
// engine's heads and counters, and notifies subscribers. An empty
// transaction (no ops issued) commits to nothing and returns the zero
// hash, ok=false.
func (tx *Transaction) Commit() (op.Hash, bool, error) {
	if err := tx.checkOpen(); err != nil {
		return op.Hash{}, false, err
	}
	tx.done = true
	if len(tx.ops) == 0 {
		return op.Hash{}, false, nil
	}

	c := &op.Change{
		Actor:   tx.eng.actors.Self(),
		Seq:     tx.eng.maxSeq[tx.actorIdx] + 1,
		StartOp: tx.start,
		Deps:    tx.deps,
		Time:    tx.time,
		Message: tx.message,
		Ops:     tx.ops,
	}
	h := c.ComputeHash(func(cc *op.Change) []byte { return codec.EncodeChangeBody(cc, tx.eng.actors) })

	tx.eng.maxSeq[tx.actorIdx] = c.Seq
	tx.eng.maxCounter[tx.actorIdx] = tx.counter - 1
	tx.eng.history[h] = c
	tx.eng.order = append(tx.eng.order, h)
	tx.eng.heads = tx.eng.advanceHeads(h, c.Deps)

	tx.eng.notify(tx.patches)
	return h, true, nil
}

// Rollback unwinds every op this transaction staged, in reverse
// insertion order, leaving the engine exactly as it was before
// Engine.Transaction started this transaction.
func (tx *Transaction) Rollback() {
	if tx.done {
		return
	}
	tx.done = true
	for i := len(tx.ops) - 1; i >= 0; i-- {
		tx.eng.unwindOp(tx.ops[i])
	}
}

// EmptyChange commits a zero-op change whose sole purpose is to record a
// message against the current heads (e.g. an explicit merge marker).
func (e *Engine) EmptyChange(message string) (op.Hash, error) {
	tx := e.Transaction()
	tx.SetMessage(message)
	tx.done = true
	c := &op.Change{
		Actor:   e.actors.Self(),
		Seq:     e.maxSeq[0] + 1,
		StartOp: tx.start,
		Deps:    tx.deps,
		Message: message,
	}
	h := c.ComputeHash(func(cc *op.Change) []byte { return codec.EncodeChangeBody(cc, e.actors) })
	e.maxSeq[0] = c.Seq
	e.history[h] = c
	e.order = append(e.order, h)
	e.heads = e.advanceHeads(h, c.Deps)
	return h, nil
}
