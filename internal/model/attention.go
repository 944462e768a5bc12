package model

import (
	"fmt"
	"math"

	"github.com/samcharles93/strata/internal/cache"
	"github.com/samcharles93/strata/internal/tensor"
)

// AttentionWeights carries the projection handles for one attention block.
// Either Query alone or the QueryDown/QueryNorm/QueryUp triple must be set,
// matching whether the config declares a low-rank query path.
type AttentionWeights struct {
	Query     Projection
	QueryDown Projection
	QueryNorm *RMSNorm
	QueryUp   Projection

	// KVJoint maps hidden to the compressed latent plus the shared key-rope
	// slice in one projection; KVUp expands the normalized latent to
	// per-head keys and values.
	KVJoint Projection
	KVNorm  *RMSNorm
	KVUp    Projection

	Out Projection
}

// Attention is the multi-head latent attention block. The backend is fixed at
// construction: with a PagedAttention handle the block reads and writes block
// tables, otherwise it appends to the incremental cache passed per call.
type Attention struct {
	cfg   *LayerConfig
	query queryProj

	kvJoint Projection
	kvNorm  *RMSNorm
	kvUp    Projection
	out     Projection

	rope  *RotaryEncoder
	scale float32
	paged *PagedAttention
}

// NewAttention wires an attention block. paged selects the block-table
// backend when non-nil; it is permanent for the instance.
func NewAttention(cfg *LayerConfig, w AttentionWeights, rope *RotaryEncoder, paged *PagedAttention) (*Attention, error) {
	a := &Attention{
		cfg:     cfg,
		kvJoint: w.KVJoint,
		kvNorm:  w.KVNorm,
		kvUp:    w.KVUp,
		out:     w.Out,
		rope:    rope,
		scale:   cfg.SoftmaxScale(),
		paged:   paged,
	}
	if w.KVJoint == nil || w.KVNorm == nil || w.KVUp == nil || w.Out == nil {
		return nil, fmt.Errorf("%w: attention requires kv and output projections", ErrConfig)
	}
	if rope == nil {
		return nil, fmt.Errorf("%w: attention requires a rotary encoder", ErrConfig)
	}

	lowRank := w.QueryDown != nil || w.QueryNorm != nil || w.QueryUp != nil
	switch {
	case w.Query != nil && lowRank:
		return nil, fmt.Errorf("%w: both direct and low-rank query paths supplied", ErrConfig)
	case w.Query != nil:
		if cfg.QLoraRank > 0 {
			return nil, fmt.Errorf("%w: config declares q_lora_rank %d but got a direct query projection", ErrConfig, cfg.QLoraRank)
		}
		a.query = queryProj{plain: w.Query}
	case w.QueryDown != nil && w.QueryNorm != nil && w.QueryUp != nil:
		if cfg.QLoraRank == 0 {
			return nil, fmt.Errorf("%w: low-rank query projections without q_lora_rank", ErrConfig)
		}
		a.query = queryProj{down: w.QueryDown, norm: w.QueryNorm, up: w.QueryUp}
	default:
		return nil, fmt.Errorf("%w: incomplete query projection", ErrConfig)
	}
	return a, nil
}

// Forward runs one attention step over hidden (batch, seq, hidden).
// seqOffsets holds the already-generated length per batch element. kv is the
// incremental cache for the cache-append backend; meta addresses the block
// store for the paged backend. mask is the additive causal mask, or nil for
// single-token steps.
func (a *Attention) Forward(hidden, mask *tensor.Tensor, seqOffsets []int, kv *cache.KV, meta *cache.PagedMetadata) (*tensor.Tensor, error) {
	b := hidden.Dim(0)
	s := hidden.Dim(1)
	heads := a.cfg.NumAttentionHeads
	nope := a.cfg.QKNopeHeadDim
	ropeDim := a.cfg.QKRopeHeadDim
	qDim := a.cfg.QHeadDim()
	vDim := a.cfg.VHeadDim

	q, err := a.query.forward(hidden)
	if err != nil {
		return nil, fmt.Errorf("attention query: %w", err)
	}
	q = tensor.TransposeHeads(q.Reshape(b, s, heads, qDim))
	qParts := tensor.SplitLast(q, nope, ropeDim)
	qNope, qPe := qParts[0], qParts[1]

	joint, err := a.kvJoint.ForwardAutocast(hidden)
	if err != nil {
		return nil, fmt.Errorf("attention kv projection: %w", err)
	}
	jointParts := tensor.SplitLast(joint, a.cfg.KVLoraRank, ropeDim)
	compressed := a.kvNorm.Forward(jointParts[0])
	kPe := tensor.TransposeHeads(jointParts[1].Reshape(b, s, 1, ropeDim))

	expanded, err := a.kvUp.ForwardAutocast(compressed)
	if err != nil {
		return nil, fmt.Errorf("attention kv expansion: %w", err)
	}
	expanded = tensor.TransposeHeads(expanded.Reshape(b, s, heads, nope+vDim))
	kvParts := tensor.SplitLast(expanded, nope, vDim)
	kNope, v := kvParts[0], kvParts[1]

	qPe, kPe, err = a.rope.Forward(qPe, kPe, seqOffsets)
	if err != nil {
		return nil, err
	}

	qFull := tensor.New(b, heads, s, qDim)
	tensor.AssignLast(qFull, 0, qNope)
	tensor.AssignLast(qFull, nope, qPe)

	kFull := tensor.New(b, heads, s, qDim)
	tensor.AssignLast(kFull, 0, kNope)
	tensor.AssignLast(kFull, nope, tensor.BroadcastHeads(kPe, heads))

	var ctx *tensor.Tensor
	if a.paged != nil {
		// The paged kernel assumes a uniform key/value width, so the value
		// is padded up to the key width and narrowed back afterwards.
		padded, err := a.paged.Forward(qFull, kFull, tensor.PadLast(v, qDim-vDim), mask, a.scale, meta)
		if err != nil {
			return nil, err
		}
		ctx = tensor.NarrowLast(padded, 0, vDim)
	} else {
		if kv == nil {
			return nil, fmt.Errorf("attention: cache-append backend requires a kv cache")
		}
		allK, allV, err := kv.Append(kFull, v)
		if err != nil {
			return nil, err
		}
		ctx, err = sdpa(qFull, allK, allV, mask, a.scale)
		if err != nil {
			return nil, err
		}
	}

	flat := tensor.TransposeHeads(ctx).Reshape(b, s, heads*vDim)
	out, err := a.out.Forward(flat)
	if err != nil {
		return nil, fmt.Errorf("attention output projection: %w", err)
	}
	return out, nil
}

// sdpa runs scaled dot-product attention per (batch, head) over materialized
// keys and values. mask, when present, is (sq, sk) and shared across heads.
func sdpa(q, k, v, mask *tensor.Tensor, scale float32) (*tensor.Tensor, error) {
	b, h, sq, d := q.Dim(0), q.Dim(1), q.Dim(2), q.Dim(3)
	sk := k.Dim(2)
	vd := v.Dim(-1)
	if mask != nil && (mask.Dim(0) != sq || mask.Dim(1) != sk) {
		return nil, fmt.Errorf("attention: mask shape %v, want (%d,%d)", mask.Shape(), sq, sk)
	}

	out := tensor.New(b, h, sq, vd)
	scores := make([]float32, sq*sk)
	qd, kd, vdata, od := q.Data(), k.Data(), v.Data(), out.Data()
	for bi := 0; bi < b; bi++ {
		for hi := 0; hi < h; hi++ {
			i := bi*h + hi
			tensor.GemmTransB(sq, sk, d, qd[i*sq*d:(i+1)*sq*d], kd[i*sk*d:(i+1)*sk*d], scores)
			for j := range scores {
				scores[j] *= scale
			}
			if mask != nil {
				md := mask.Data()
				for j, mv := range md {
					scores[j] += mv
				}
			}
			for r := 0; r < sq; r++ {
				tensor.Softmax(scores[r*sk : (r+1)*sk])
			}
			tensor.Gemm(sq, vd, sk, scores, vdata[i*sk*vd:(i+1)*sk*vd], od[i*sq*vd:(i+1)*sq*vd])
		}
	}
	return out, nil
}

// PagedAttention attends through externally-owned block tables. The store is
// owned by the serving session; one instance serves every layer placed on the
// same device.
type PagedAttention struct {
	store *cache.PagedStore
}

// NewPagedAttention wraps a block store.
func NewPagedAttention(store *cache.PagedStore) *PagedAttention {
	if store == nil {
		panic("model: nil paged store")
	}
	return &PagedAttention{store: store}
}

// Forward writes the step's keys and values into the block store, then
// attends each query over its sequence's full context. q, k and v are
// (batch, heads, seq, dim) with a uniform dim. A nil meta is replaced by
// dummy metadata: the store is left untouched, attention runs over the fresh
// keys and values only, and an explicit mask is mandatory.
func (p *PagedAttention) Forward(q, k, v, mask *tensor.Tensor, scale float32, meta *cache.PagedMetadata) (*tensor.Tensor, error) {
	if meta == nil {
		meta = cache.DummyMetadata()
	}
	if meta.IsDummy() {
		if mask == nil {
			panic("model: paged attention with dummy metadata requires an explicit mask")
		}
		return sdpa(q, k, v, mask, scale)
	}

	b, h, s, d := q.Dim(0), q.Dim(1), q.Dim(2), q.Dim(3)
	blockSize := p.store.BlockSize()
	if len(meta.ContextLens) != b || len(meta.KeyBlockTables) != b || len(meta.ValueBlockTables) != b {
		return nil, fmt.Errorf("attention: paged metadata covers %d sequences, batch is %d", len(meta.ContextLens), b)
	}

	kd, vdata := k.Data(), v.Data()
	slotBuf := make([]float32, h*d)
	for bi := 0; bi < b; bi++ {
		ctxLen := meta.ContextLens[bi]
		start := ctxLen - s
		if start < 0 {
			return nil, fmt.Errorf("attention: context length %d shorter than step %d", ctxLen, s)
		}
		for si := 0; si < s; si++ {
			for hi := 0; hi < h; hi++ {
				off := ((bi*h+hi)*s + si) * d
				copy(slotBuf[hi*d:(hi+1)*d], kd[off:off+d])
			}
			block, slot := meta.Slot(meta.KeyBlockTables[bi], start+si, blockSize)
			p.store.WriteKeySlot(block, slot, slotBuf)
			for hi := 0; hi < h; hi++ {
				off := ((bi*h+hi)*s + si) * d
				copy(slotBuf[hi*d:(hi+1)*d], vdata[off:off+d])
			}
			block, slot = meta.Slot(meta.ValueBlockTables[bi], start+si, blockSize)
			p.store.WriteValueSlot(block, slot, slotBuf)
		}
	}

	out := tensor.New(b, h, s, d)
	od := out.Data()
	qd := q.Data()
	negInf := float32(math.Inf(-1))
	for bi := 0; bi < b; bi++ {
		ctxLen := meta.ContextLens[bi]
		start := ctxLen - s
		if mask != nil && (mask.Dim(0) != s || mask.Dim(1) != ctxLen) {
			return nil, fmt.Errorf("attention: mask shape %v, want (%d,%d)", mask.Shape(), s, ctxLen)
		}
		keys := make([]float32, ctxLen*d)
		vals := make([]float32, ctxLen*d)
		scores := make([]float32, s*ctxLen)
		for hi := 0; hi < h; hi++ {
			for pos := 0; pos < ctxLen; pos++ {
				block, slot := meta.Slot(meta.KeyBlockTables[bi], pos, blockSize)
				p.store.ReadKey(block, slot, hi, keys[pos*d:(pos+1)*d])
				block, slot = meta.Slot(meta.ValueBlockTables[bi], pos, blockSize)
				p.store.ReadValue(block, slot, hi, vals[pos*d:(pos+1)*d])
			}
			i := bi*h + hi
			tensor.GemmTransB(s, ctxLen, d, qd[i*s*d:(i+1)*s*d], keys, scores)
			for j := range scores {
				scores[j] *= scale
			}
			if mask != nil {
				md := mask.Data()
				for j, mv := range md {
					scores[j] += mv
				}
			} else {
				for r := 0; r < s; r++ {
					row := scores[r*ctxLen : (r+1)*ctxLen]
					for pos := start + r + 1; pos < ctxLen; pos++ {
						row[pos] = negInf
					}
				}
			}
			for r := 0; r < s; r++ {
				tensor.Softmax(scores[r*ctxLen : (r+1)*ctxLen])
			}
			tensor.Gemm(s, d, ctxLen, scores, vals, od[i*s*d:(i+1)*s*d])
		}
	}
	return out, nil
}
