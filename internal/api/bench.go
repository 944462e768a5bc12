package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/strata/internal/logger"
	"github.com/samcharles93/strata/internal/model"
	"github.com/samcharles93/strata/internal/tensor"
)

// BenchRequest describes one synthetic benchmark run. Config optionally
// overrides the built-in layer configuration with a raw config.json payload.
type BenchRequest struct {
	Layers int             `json:"layers"`
	Batch  int             `json:"batch"`
	Seq    int             `json:"seq"`
	Steps  int             `json:"steps"`
	Seed   int64           `json:"seed"`
	Config json.RawMessage `json:"config,omitempty"`
}

type BenchResponse struct {
	ID              string    `json:"id"`
	Layers          int       `json:"layers"`
	Batch           int       `json:"batch"`
	Seq             int       `json:"seq"`
	Steps           int       `json:"steps"`
	PrefillSeconds  float64   `json:"prefill_seconds"`
	StepSeconds     []float64 `json:"step_seconds"`
	TotalSeconds    float64   `json:"total_seconds"`
	TokensPerSecond float64   `json:"tokens_per_second"`
}

const (
	maxBenchLayers = 64
	maxBenchBatch  = 64
	maxBenchSeq    = 4096
	maxBenchSteps  = 1024
)

func (r *BenchRequest) applyDefaults() {
	if r.Layers == 0 {
		r.Layers = 2
	}
	if r.Batch == 0 {
		r.Batch = 1
	}
	if r.Seq == 0 {
		r.Seq = 16
	}
	if r.Steps == 0 {
		r.Steps = 8
	}
	if r.Seed == 0 {
		r.Seed = 1
	}
}

func (r *BenchRequest) validate() error {
	switch {
	case r.Layers < 1 || r.Layers > maxBenchLayers:
		return fmt.Errorf("layers must be in [1,%d]", maxBenchLayers)
	case r.Batch < 1 || r.Batch > maxBenchBatch:
		return fmt.Errorf("batch must be in [1,%d]", maxBenchBatch)
	case r.Seq < 1 || r.Seq > maxBenchSeq:
		return fmt.Errorf("seq must be in [1,%d]", maxBenchSeq)
	case r.Steps < 0 || r.Steps > maxBenchSteps:
		return fmt.Errorf("steps must be in [0,%d]", maxBenchSteps)
	}
	return nil
}

// DefaultBenchConfig is the layer configuration used when a bench request
// does not carry its own.
func DefaultBenchConfig() *model.LayerConfig {
	cfg := &model.LayerConfig{
		HiddenSize:            256,
		IntermediateSize:      512,
		MoEIntermediateSize:   128,
		NumAttentionHeads:     8,
		QKNopeHeadDim:         24,
		QKRopeHeadDim:         8,
		VHeadDim:              32,
		KVLoraRank:            64,
		NumRoutedExperts:      8,
		NumSharedExperts:      1,
		NumExpertsPerTok:      2,
		NormTopKProb:          true,
		MaxPositionEmbeddings: 8192,
	}
	cfg.ApplyDefaults()
	return cfg
}

func (s *Server) handleBench(c *echo.Context) error {
	var req BenchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.applyDefaults()
	if err := req.validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	cfg := DefaultBenchConfig()
	if len(req.Config) > 0 {
		var err error
		cfg, err = model.LoadLayerConfig(req.Config)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	if req.Seq+req.Steps > cfg.MaxPositionEmbeddings {
		return echo.NewHTTPError(http.StatusBadRequest, "seq+steps exceeds max_position_embeddings")
	}

	ctx := logger.WithContext(c.Request().Context(), s.log)
	resp, err := RunBench(ctx, cfg, &req)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	s.log.With("id", resp.ID).Info("bench run complete",
		"layers", resp.Layers,
		"total_seconds", resp.TotalSeconds,
		"tokens_per_second", resp.TokensPerSecond)
	return c.JSON(http.StatusOK, resp)
}

// RunBench executes one synthetic run: a prefill over req.Seq positions
// followed by req.Steps single-token decode steps. Per-step timings are
// logged at debug level through the logger carried in ctx.
func RunBench(ctx context.Context, cfg *model.LayerConfig, req *BenchRequest) (*BenchResponse, error) {
	log := logger.FromContext(ctx)
	m, err := model.RandomModel(cfg, req.Layers, req.Batch, req.Seed)
	if err != nil {
		return nil, err
	}

	resp := &BenchResponse{
		ID:     uuid.NewString(),
		Layers: req.Layers,
		Batch:  req.Batch,
		Seq:    req.Seq,
		Steps:  req.Steps,
	}

	prompt := tensor.New(req.Batch, req.Seq, cfg.HiddenSize)
	tensor.FillRand(prompt, req.Seed)
	start := time.Now()
	if _, err := m.Forward(prompt); err != nil {
		return nil, err
	}
	resp.PrefillSeconds = time.Since(start).Seconds()
	log.Debug("prefill done", "id", resp.ID, "seconds", resp.PrefillSeconds)

	step := tensor.New(req.Batch, 1, cfg.HiddenSize)
	resp.StepSeconds = make([]float64, 0, req.Steps)
	for i := 0; i < req.Steps; i++ {
		tensor.FillRand(step, req.Seed+int64(i)+1)
		t0 := time.Now()
		if _, err := m.Forward(step); err != nil {
			return nil, err
		}
		resp.StepSeconds = append(resp.StepSeconds, time.Since(t0).Seconds())
		log.Debug("decode step done", "id", resp.ID, "step", i, "seconds", resp.StepSeconds[i])
	}

	resp.TotalSeconds = time.Since(start).Seconds()
	if resp.TotalSeconds > 0 {
		resp.TokensPerSecond = float64(req.Batch*(req.Seq+req.Steps)) / resp.TotalSeconds
	}
	return resp, nil
}
