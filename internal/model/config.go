package model

import (
	"fmt"
	"math"

	"github.com/goccy/go-json"
)

// Routing policy names, matching the checkpoint config vocabulary.
const (
	TopKGreedy             = "greedy"
	TopKNoAuxTC            = "noaux_tc"
	TopKGroupLimitedGreedy = "group_limited_greedy"
)

// Score function names.
const (
	ScoreSoftmax = "softmax"
	ScoreSigmoid = "sigmoid"
)

// LayerConfig holds the immutable per-model constants shared by every decoder
// layer. Field names follow the upstream config.json schema.
type LayerConfig struct {
	HiddenSize          int `json:"hidden_size"`
	IntermediateSize    int `json:"intermediate_size"`
	MoEIntermediateSize int `json:"moe_intermediate_size"`
	NumAttentionHeads   int `json:"num_attention_heads"`

	QKNopeHeadDim int `json:"qk_nope_head_dim"`
	QKRopeHeadDim int `json:"qk_rope_head_dim"`
	VHeadDim      int `json:"v_head_dim"`
	KVLoraRank    int `json:"kv_lora_rank"`
	// QLoraRank selects the low-rank query path when positive; zero means a
	// direct query projection.
	QLoraRank int `json:"q_lora_rank"`

	NumRoutedExperts    int     `json:"n_routed_experts"`
	NumSharedExperts    int     `json:"n_shared_experts"`
	NumExpertsPerTok    int     `json:"num_experts_per_tok"`
	TopKMethod          string  `json:"topk_method"`
	ScoringFunc         string  `json:"scoring_func"`
	NGroup              int     `json:"n_group"`
	TopKGroup           int     `json:"topk_group"`
	NormTopKProb        bool    `json:"norm_topk_prob"`
	RoutedScalingFactor float64 `json:"routed_scaling_factor"`
	MoELayerFreq        int     `json:"moe_layer_freq"`
	FirstKDenseReplace  int     `json:"first_k_dense_replace"`

	RMSNormEps            float64      `json:"rms_norm_eps"`
	RopeTheta             float64      `json:"rope_theta"`
	MaxPositionEmbeddings int          `json:"max_position_embeddings"`
	RopeScaling           *RopeScaling `json:"rope_scaling"`
	AttentionBias         bool         `json:"attention_bias"`
}

// RopeScaling describes rotary position scaling parameters. Only the yarn
// law is recognised; anything else leaves frequencies untouched.
type RopeScaling struct {
	Type         string  `json:"type"`
	Factor       float64 `json:"factor"`
	OrigMaxCtx   int     `json:"original_max_position_embeddings"`
	BetaFast     float64 `json:"beta_fast"`
	BetaSlow     float64 `json:"beta_slow"`
	MScale       float64 `json:"mscale"`
	MScaleAllDim float64 `json:"mscale_all_dim"`
}

// LoadLayerConfig decodes a LayerConfig from JSON, applies defaults, and
// validates it.
func LoadLayerConfig(raw []byte) (*LayerConfig, error) {
	var cfg LayerConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode layer config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills optional fields with the upstream defaults.
func (c *LayerConfig) ApplyDefaults() {
	if c.TopKMethod == "" {
		c.TopKMethod = TopKGreedy
	}
	if c.ScoringFunc == "" {
		c.ScoringFunc = ScoreSoftmax
	}
	if c.RoutedScalingFactor == 0 {
		c.RoutedScalingFactor = 1
	}
	if c.MoELayerFreq == 0 {
		c.MoELayerFreq = 1
	}
	if c.RopeTheta == 0 {
		c.RopeTheta = 10_000
	}
	if c.RMSNormEps == 0 {
		c.RMSNormEps = 1e-6
	}
}

// QHeadDim is the full per-head query/key dimension: the non-rotary slice
// followed by the rotary slice. Every projection in the attention block is
// sized against this sum.
func (c *LayerConfig) QHeadDim() int {
	return c.QKNopeHeadDim + c.QKRopeHeadDim
}

// SoftmaxScale returns the attention logit scale. Under yarn scaling the
// mscale factor is folded in squared, once, here; never per call.
func (c *LayerConfig) SoftmaxScale() float32 {
	scale := 1.0 / math.Sqrt(float64(c.QHeadDim()))
	if rs := c.RopeScaling; rs != nil && rs.Type == "yarn" {
		m := yarnMScale(rs.Factor, rs.MScaleAllDim)
		scale *= m * m
	}
	return float32(scale)
}

// yarnMScale is the yarn attention rescale law: 0.1·mul·ln(factor) + 1 for
// stretch factors above one.
func yarnMScale(factor, mul float64) float64 {
	if factor <= 1 {
		return 1
	}
	if mul <= 0 {
		mul = 1
	}
	return 0.1*mul*math.Log(factor) + 1
}

// Validate checks the construction-time invariants. A config that passes
// Validate never fails dimension checks at forward time.
func (c *LayerConfig) Validate() error {
	if c.HiddenSize <= 0 {
		return fmt.Errorf("%w: hidden_size %d", ErrConfig, c.HiddenSize)
	}
	if c.NumAttentionHeads <= 0 {
		return fmt.Errorf("%w: num_attention_heads %d", ErrConfig, c.NumAttentionHeads)
	}
	if c.QKNopeHeadDim <= 0 || c.QKRopeHeadDim <= 0 {
		return fmt.Errorf("%w: head dims nope=%d rope=%d", ErrConfig, c.QKNopeHeadDim, c.QKRopeHeadDim)
	}
	if c.QKRopeHeadDim%2 != 0 {
		return fmt.Errorf("%w: qk_rope_head_dim %d must be even", ErrConfig, c.QKRopeHeadDim)
	}
	if c.VHeadDim <= 0 || c.VHeadDim > c.QHeadDim() {
		return fmt.Errorf("%w: v_head_dim %d (q head dim %d)", ErrConfig, c.VHeadDim, c.QHeadDim())
	}
	if c.KVLoraRank <= 0 {
		return fmt.Errorf("%w: kv_lora_rank %d", ErrConfig, c.KVLoraRank)
	}
	if c.QLoraRank < 0 {
		return fmt.Errorf("%w: q_lora_rank %d", ErrConfig, c.QLoraRank)
	}
	if c.MaxPositionEmbeddings <= 0 {
		return fmt.Errorf("%w: max_position_embeddings %d", ErrConfig, c.MaxPositionEmbeddings)
	}

	if c.NumRoutedExperts > 0 {
		if c.NumExpertsPerTok <= 0 || c.NumExpertsPerTok > c.NumRoutedExperts {
			return fmt.Errorf("%w: num_experts_per_tok %d of %d experts", ErrConfig, c.NumExpertsPerTok, c.NumRoutedExperts)
		}
		switch c.TopKMethod {
		case TopKGreedy, TopKNoAuxTC, TopKGroupLimitedGreedy:
		default:
			return fmt.Errorf("%w: unknown topk_method %q", ErrConfig, c.TopKMethod)
		}
		switch c.ScoringFunc {
		case ScoreSoftmax, ScoreSigmoid:
		default:
			return fmt.Errorf("%w: unknown scoring_func %q", ErrConfig, c.ScoringFunc)
		}
		if c.TopKMethod != TopKGreedy {
			if c.NGroup <= 0 || c.NumRoutedExperts%c.NGroup != 0 {
				return fmt.Errorf("%w: n_group %d does not divide n_routed_experts %d", ErrConfig, c.NGroup, c.NumRoutedExperts)
			}
			if c.TopKGroup <= 0 || c.TopKGroup > c.NGroup {
				return fmt.Errorf("%w: topk_group %d of %d groups", ErrConfig, c.TopKGroup, c.NGroup)
			}
		}
		if c.MoELayerFreq <= 0 {
			return fmt.Errorf("%w: moe_layer_freq %d", ErrConfig, c.MoELayerFreq)
		}
		if c.FirstKDenseReplace < 0 {
			return fmt.Errorf("%w: first_k_dense_replace %d", ErrConfig, c.FirstKDenseReplace)
		}
	}
	return nil
}

// IsMoELayer reports whether the layer at layerIdx uses the expert bank. The
// choice is permanent for a given layer index.
func (c *LayerConfig) IsMoELayer(layerIdx int) bool {
	return c.NumRoutedExperts > 0 &&
		layerIdx >= c.FirstKDenseReplace &&
		layerIdx%c.MoELayerFreq == 0
}
