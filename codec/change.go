package codec

import (
	"crypto/sha256"

	"github.com/automerge/automerge-sub002/actor"
	"github.com/automerge/automerge-sub002/errs"
	"github.com/automerge/automerge-sub002/op"
)

// Column tags for the ops section. Values below firstUnknownTag
// are the named columns; any tag at or above it found while decoding is
// preserved verbatim in Change.ExtraColumns.
const (
	colObjActor     byte = 0
	colObjCounter   byte = 1
	colKeyActor     byte = 2
	colKeyCounter   byte = 3
	colKeyStr       byte = 4
	colInsert       byte = 5
	colAction       byte = 6
	colValLen       byte = 7
	colValRaw       byte = 8
	colPredNum      byte = 9
	colPredActor    byte = 10
	colPredCounter  byte = 11
	colExpand       byte = 12
	colMarkName     byte = 13
	colMarkValLen   byte = 14
	colMarkValRaw   byte = 15
	colMarkStartAct byte = 16
	colMarkStartCtr byte = 17
	colMarkEndAct   byte = 18
	colMarkEndCtr   byte = 19
	firstUnknownTag byte = 20
)

// packElemKeyMapped packs an ElemKey (Head sentinel or a change-local
// actor index plus counter) into the actor/counter column pair used for
// both sequence keys and mark boundaries: 0 means Head, else actor+1,
// translated through a change-local remap, as encodeOpColumns needs.
func packElemKeyMapped(k op.ElemKey, remap map[uint32]uint32) (actorIdx, counter uint64) {
	if k.Head {
		return 0, 0
	}
	return uint64(remap[k.ElemID.Actor]) + 1, k.ElemID.Counter
}

func unpackElemKey(actorIdx, counter uint64) op.ElemKey {
	if actorIdx == 0 {
		return op.Head
	}
	return op.ElemKey{ElemID: op.ID{Counter: counter, Actor: uint32(actorIdx - 1)}}
}

// buildChangeActorList derives the per-change actor list: index 0
// is always c.Actor, and every other actor-table index referenced by an
// op's Obj/Key/Pred/mark boundaries is appended in first-use order. The
// returned remap translates actors's table indices into this change's
// local indices, which is what encodeOpColumns writes to the wire.
func buildChangeActorList(c *op.Change, actors *actor.Table) ([]actor.ID, map[uint32]uint32) {
	remap := make(map[uint32]uint32)
	var list []actor.ID

	selfIdx := actors.Intern(c.Actor)
	remap[selfIdx] = 0
	list = append(list, actors.At(selfIdx))

	use := func(idx uint32) {
		if _, ok := remap[idx]; ok {
			return
		}
		remap[idx] = uint32(len(list))
		list = append(list, actors.At(idx))
	}

	for _, o := range c.Ops {
		if !o.Obj.IsRoot() {
			use(o.Obj.Actor)
		}
		if !o.Key.IsMapKey && !o.Key.Elem.Head {
			use(o.Key.Elem.ElemID.Actor)
		}
		for _, p := range o.Pred {
			use(p.Actor)
		}
		if o.Action == op.ActionMarkBegin {
			if !o.MarkStart.Head {
				use(o.MarkStart.ElemID.Actor)
			}
			if !o.MarkEnd.Head {
				use(o.MarkEnd.ElemID.Actor)
			}
		}
	}
	return list, remap
}

// EncodeChangeBody encodes a change's header and columnar ops section,
// the exact bytes SHA-256'd to produce the change's hash.
func EncodeChangeBody(c *op.Change, actors *actor.Table) []byte {
	var buf []byte
	buf = putBytes(buf, c.Actor)
	buf = putUvarint(buf, c.Seq)
	buf = putUvarint(buf, c.StartOp)
	buf = putZigzag(buf, c.Time)
	buf = putString(buf, c.Message)
	buf = putUvarint(buf, uint64(len(c.Deps)))
	deps := append([]op.Hash(nil), c.Deps...)
	op.SortHashes(deps)
	for _, h := range deps {
		buf = append(buf, h[:]...)
	}

	actorList, remap := buildChangeActorList(c, actors)
	buf = putUvarint(buf, uint64(len(actorList)))
	for _, a := range actorList {
		buf = putBytes(buf, a)
	}

	cols := encodeOpColumns(c.Ops, remap)
	for _, rc := range c.ExtraColumns {
		cols = append(cols, rc)
	}
	buf = putUvarint(buf, uint64(len(cols)))
	for _, rc := range cols {
		buf = append(buf, rc.Tag)
		buf = putBytes(buf, rc.Data)
	}
	return buf
}

func encodeOpColumns(ops []op.Op, remap map[uint32]uint32) []op.RawColumn {
	var objActor, objCounter, keyActor, keyCounter, keyStr, insertCol, actionCol []byte
	var valLen, valRaw, predNum, predActor, predCounter, expandCol, markNameCol []byte
	var markValLen, markValRaw, markStartAct, markStartCtr, markEndAct, markEndCtr []byte

	for _, o := range ops {
		if o.Obj.IsRoot() {
			objActor = putUvarint(objActor, 0)
			objCounter = putUvarint(objCounter, 0)
		} else {
			objActor = putUvarint(objActor, uint64(remap[o.Obj.Actor]))
			objCounter = putUvarint(objCounter, o.Obj.Counter)
		}

		if o.Key.IsMapKey {
			keyStr = putString(keyStr, o.Key.MapKey)
			keyActor = putUvarint(keyActor, 0)
			keyCounter = putUvarint(keyCounter, 0)
		} else {
			keyStr = putString(keyStr, "")
			ka, kc := packElemKeyMapped(o.Key.Elem, remap)
			keyActor = putUvarint(keyActor, ka)
			keyCounter = putUvarint(keyCounter, kc)
		}

		if o.Insert {
			insertCol = append(insertCol, 1)
		} else {
			insertCol = append(insertCol, 0)
		}
		actionCol = append(actionCol, byte(o.Action))

		switch o.Action {
		case op.ActionSet:
			before := len(valRaw)
			valRaw = EncodeScalar(valRaw, o.Value)
			valLen = putUvarint(valLen, uint64(len(valRaw)-before))
		case op.ActionIncrement:
			before := len(valRaw)
			valRaw = putZigzag(valRaw, o.Delta)
			valLen = putUvarint(valLen, uint64(len(valRaw)-before))
		default:
			valLen = putUvarint(valLen, 0)
		}

		predNum = putUvarint(predNum, uint64(len(o.Pred)))
		preds := append([]op.ID(nil), o.Pred...)
		op.SortIDs(preds)
		for _, p := range preds {
			predActor = putUvarint(predActor, uint64(remap[p.Actor]))
			predCounter = putUvarint(predCounter, p.Counter)
		}

		expandCol = append(expandCol, byte(o.Expand))
		markNameCol = putString(markNameCol, o.MarkName)

		if o.Action == op.ActionMarkBegin {
			before := len(markValRaw)
			markValRaw = EncodeScalar(markValRaw, o.MarkValue)
			markValLen = putUvarint(markValLen, uint64(len(markValRaw)-before))
			sa, sc := packElemKeyMapped(o.MarkStart, remap)
			ea, ec := packElemKeyMapped(o.MarkEnd, remap)
			markStartAct = putUvarint(markStartAct, sa)
			markStartCtr = putUvarint(markStartCtr, sc)
			markEndAct = putUvarint(markEndAct, ea)
			markEndCtr = putUvarint(markEndCtr, ec)
		} else {
			markValLen = putUvarint(markValLen, 0)
			markStartAct = putUvarint(markStartAct, 0)
			markStartCtr = putUvarint(markStartCtr, 0)
			markEndAct = putUvarint(markEndAct, 0)
			markEndCtr = putUvarint(markEndCtr, 0)
		}
	}

	return []op.RawColumn{
		{Tag: colObjActor, Data: objActor},
		{Tag: colObjCounter, Data: objCounter},
		{Tag: colKeyActor, Data: keyActor},
		{Tag: colKeyCounter, Data: keyCounter},
		{Tag: colKeyStr, Data: keyStr},
		{Tag: colInsert, Data: insertCol},
		{Tag: colAction, Data: actionCol},
		{Tag: colValLen, Data: valLen},
		{Tag: colValRaw, Data: valRaw},
		{Tag: colPredNum, Data: predNum},
		{Tag: colPredActor, Data: predActor},
		{Tag: colPredCounter, Data: predCounter},
		{Tag: colExpand, Data: expandCol},
		{Tag: colMarkName, Data: markNameCol},
		{Tag: colMarkValLen, Data: markValLen},
		{Tag: colMarkValRaw, Data: markValRaw},
		{Tag: colMarkStartAct, Data: markStartAct},
		{Tag: colMarkStartCtr, Data: markStartCtr},
		{Tag: colMarkEndAct, Data: markEndAct},
		{Tag: colMarkEndCtr, Data: markEndCtr},
	}
}

// EncodeChange produces the full self-describing chunk: magic, chunk
// type, length, hash, body.
func EncodeChange(c *op.Change, actors *actor.Table) []byte {
	body := EncodeChangeBody(c, actors)
	sum := sha256.Sum256(body)
	var out []byte
	out = append(out, Magic[:]...)
	out = append(out, byte(ChunkChange))
	out = putUvarint(out, uint64(len(body)))
	out = append(out, sum[:]...)
	out = append(out, body...)
	return out
}

// DecodeChange parses a change chunk produced by EncodeChange, checking
// the magic/hash. Ops are produced with Action-specific fields populated
// from the columns; their count is not checked against start_op. The
// caller (the change-application path) is responsible for assigning
// final object registration.
func DecodeChange(data []byte) (*op.Change, []byte, error) {
	if len(data) < 4+1+8+32 {
		return nil, nil, errs.New(errs.IntegrityError, "truncated change chunk")
	}
	if [4]byte(data[:4]) != Magic {
		return nil, nil, errs.New(errs.IntegrityError, "bad magic")
	}
	if ChunkType(data[4]) != ChunkChange {
		return nil, nil, errs.New(errs.IntegrityError, "not a change chunk")
	}
	rest := data[5:]
	length, rest, err := getUvarint(rest)
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(rest)) < 32+length {
		return nil, nil, errs.New(errs.IntegrityError, "truncated change body")
	}
	var hash op.Hash
	copy(hash[:], rest[:32])
	body := rest[32 : 32+length]
	tail := rest[32+length:]

	sum := sha256.Sum256(body)
	if op.Hash(sum) != hash {
		return nil, nil, errs.New(errs.IntegrityError, "change hash mismatch")
	}

	c, err := decodeChangeBody(body)
	if err != nil {
		return nil, nil, err
	}
	c.SetHash(hash)
	return c, tail, nil
}

func decodeChangeBody(body []byte) (*op.Change, error) {
	c := &op.Change{}
	var err error
	c.Actor, body, err = getBytes(body)
	if err != nil {
		return nil, err
	}
	c.Seq, body, err = getUvarint(body)
	if err != nil {
		return nil, err
	}
	c.StartOp, body, err = getUvarint(body)
	if err != nil {
		return nil, err
	}
	c.Time, body, err = getZigzag(body)
	if err != nil {
		return nil, err
	}
	c.Message, body, err = getString(body)
	if err != nil {
		return nil, err
	}
	var nDeps uint64
	nDeps, body, err = getUvarint(body)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < nDeps; i++ {
		if len(body) < 32 {
			return nil, errs.New(errs.IntegrityError, "truncated deps")
		}
		var h op.Hash
		copy(h[:], body[:32])
		body = body[32:]
		c.Deps = append(c.Deps, h)
	}

	var nActors uint64
	nActors, body, err = getUvarint(body)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < nActors; i++ {
		var a []byte
		a, body, err = getBytes(body)
		if err != nil {
			return nil, err
		}
		c.ChangeActors = append(c.ChangeActors, actor.ID(a))
	}

	var nCols uint64
	nCols, body, err = getUvarint(body)
	if err != nil {
		return nil, err
	}
	cols := make(map[byte][]byte, nCols)
	var order []byte
	for i := uint64(0); i < nCols; i++ {
		if len(body) < 1 {
			return nil, errs.New(errs.IntegrityError, "truncated column tag")
		}
		tag := body[0]
		body = body[1:]
		var data []byte
		data, body, err = getBytes(body)
		if err != nil {
			return nil, err
		}
		cols[tag] = data
		order = append(order, tag)
	}

	for _, tag := range order {
		if tag >= firstUnknownTag {
			c.ExtraColumns = append(c.ExtraColumns, op.RawColumn{Tag: tag, Data: cols[tag]})
		}
	}

	ops, err := decodeOpColumns(cols, c.StartOp)
	if err != nil {
		return nil, err
	}
	c.Ops = ops
	return c, nil
}

// decodeOpColumns reconstructs ops with change-local actor indices (0 is
// always the change's own author): the caller remaps them against
// c.ChangeActors into its own document's actor table (see
// change.Engine.ApplyChange).
func decodeOpColumns(cols map[byte][]byte, startOp uint64) ([]op.Op, error) {
	objActor, keyActor, keyCounter, insertCol, actionCol := cols[colObjActor], cols[colKeyActor], cols[colKeyCounter], cols[colInsert], cols[colAction]
	objCounter, keyStr, valLen, valRaw := cols[colObjCounter], cols[colKeyStr], cols[colValLen], cols[colValRaw]
	predNum, predActor, predCounter := cols[colPredNum], cols[colPredActor], cols[colPredCounter]
	expandCol, markNameCol := cols[colExpand], cols[colMarkName]
	markValLen, markValRaw := cols[colMarkValLen], cols[colMarkValRaw]
	markStartAct, markStartCtr := cols[colMarkStartAct], cols[colMarkStartCtr]
	markEndAct, markEndCtr := cols[colMarkEndAct], cols[colMarkEndCtr]

	var ops []op.Op
	counter := startOp
	var err error
	for len(actionCol) > 0 {
		o := op.Op{ID: op.ID{Counter: counter}}

		var oa, oc uint64
		oa, objActor, err = getUvarint(objActor)
		if err != nil {
			return nil, err
		}
		oc, objCounter, err = getUvarint(objCounter)
		if err != nil {
			return nil, err
		}
		o.Obj = op.ID{Counter: oc, Actor: uint32(oa)}

		var ka, kc uint64
		var ks string
		ka, keyActor, err = getUvarint(keyActor)
		if err != nil {
			return nil, err
		}
		kc, keyCounter, err = getUvarint(keyCounter)
		if err != nil {
			return nil, err
		}
		ks, keyStr, err = getString(keyStr)
		if err != nil {
			return nil, err
		}
		switch {
		case ka == 0 && kc == 0 && ks != "":
			o.Key = op.MapKey(ks)
		default:
			o.Key = op.SeqKey(unpackElemKey(ka, kc))
		}

		o.Insert = insertCol[0] == 1
		insertCol = insertCol[1:]
		o.Action = op.Action(actionCol[0])
		actionCol = actionCol[1:]

		var vl uint64
		vl, valLen, err = getUvarint(valLen)
		if err != nil {
			return nil, err
		}
		if vl > uint64(len(valRaw)) {
			return nil, errs.New(errs.IntegrityError, "truncated value column")
		}
		chunk := valRaw[:vl]
		valRaw = valRaw[vl:]
		switch o.Action {
		case op.ActionSet:
			v, _, derr := DecodeScalar(chunk)
			if derr != nil {
				return nil, derr
			}
			o.Value = v
		case op.ActionIncrement:
			if len(chunk) > 0 {
				d, _, derr := getZigzag(chunk)
				if derr != nil {
					return nil, derr
				}
				o.Delta = d
			}
		}

		var np uint64
		np, predNum, err = getUvarint(predNum)
		if err != nil {
			return nil, err
		}
		for i := uint64(0); i < np; i++ {
			var pa, pc uint64
			pa, predActor, err = getUvarint(predActor)
			if err != nil {
				return nil, err
			}
			pc, predCounter, err = getUvarint(predCounter)
			if err != nil {
				return nil, err
			}
			o.Pred = append(o.Pred, op.ID{Counter: pc, Actor: uint32(pa)})
		}

		if len(expandCol) > 0 {
			o.Expand = op.Expand(expandCol[0])
			expandCol = expandCol[1:]
		}
		o.MarkName, markNameCol, err = getString(markNameCol)
		if err != nil {
			return nil, err
		}

		var mvl uint64
		mvl, markValLen, err = getUvarint(markValLen)
		if err != nil {
			return nil, err
		}
		if mvl > uint64(len(markValRaw)) {
			return nil, errs.New(errs.IntegrityError, "truncated mark value column")
		}
		mchunk := markValRaw[:mvl]
		markValRaw = markValRaw[mvl:]

		var sa, sc, ea, ec uint64
		sa, markStartAct, err = getUvarint(markStartAct)
		if err != nil {
			return nil, err
		}
		sc, markStartCtr, err = getUvarint(markStartCtr)
		if err != nil {
			return nil, err
		}
		ea, markEndAct, err = getUvarint(markEndAct)
		if err != nil {
			return nil, err
		}
		ec, markEndCtr, err = getUvarint(markEndCtr)
		if err != nil {
			return nil, err
		}

		if o.Action == op.ActionMarkBegin {
			if len(mchunk) > 0 {
				v, _, derr := DecodeScalar(mchunk)
				if derr != nil {
					return nil, derr
				}
				o.MarkValue = v
			}
			o.MarkStart = unpackElemKey(sa, sc)
			o.MarkEnd = unpackElemKey(ea, ec)
		}

		o.ID.Counter = counter
		counter++
		ops = append(ops, o)
	}
	return ops, nil
}
