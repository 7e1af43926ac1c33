// Package mock answers when no backend could be loaded. Its output is
// schema-valid but carries no information about the image, and is always
// flagged with ModelType.
package mock

import (
	"math/rand/v2"

	"github.com/example/skinsight/internal/decoder"
	"github.com/example/skinsight/internal/labels"
)

// ModelType marks degraded results. It must reach the caller unchanged.
const ModelType = "mock"

// DefaultSeed is used when no seed is configured.
const DefaultSeed uint64 = 42

// Provider produces the same pseudo-random result on every call.
type Provider struct {
	decoder *decoder.Decoder
	seed    uint64
}

// New returns a provider decoding through d.
func New(d *decoder.Decoder, seed uint64) *Provider {
	if seed == 0 {
		seed = DefaultSeed
	}
	return &Provider{decoder: d, seed: seed}
}

// Result returns the multi-task mock answer.
func (p *Provider) Result() *decoder.Result {
	res, err := p.decoder.Decode(p.logits(), ModelType)
	if err != nil {
		// logits always matches the mappings' length
		panic(err)
	}
	return res
}

// Prediction returns the single-task mock answer for task.
func (p *Provider) Prediction(task labels.Task) *decoder.Prediction {
	pred, err := p.decoder.DecodeTask(p.logits(), task, ModelType)
	if err != nil {
		panic(err)
	}
	return pred
}

// logits draws from a freshly seeded generator so every call is identical.
func (p *Provider) logits() []float32 {
	rng := rand.New(rand.NewPCG(p.seed, p.seed^0x9e3779b97f4a7c15))
	out := make([]float32, p.decoder.Mappings().Total())
	for i := range out {
		out[i] = float32(rng.Float64()*4 - 2)
	}
	return out
}
