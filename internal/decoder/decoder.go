package decoder

import (
	"errors"
	"fmt"
	"math"

	"github.com/example/skinsight/internal/labels"
)

// ErrDecode marks raw outputs that do not fit the configured label mappings,
// usually a model exported against a different label version.
var ErrDecode = errors.New("decode error")

// DefaultThreshold is the probability a condition must exceed to be reported.
const DefaultThreshold = 0.5

// Activation selects how the conditions head is turned into probabilities.
type Activation string

const (
	// Sigmoid scores every condition independently, so several may be detected.
	Sigmoid Activation = "sigmoid"
	// Softmax normalizes the conditions head like the single-label heads.
	Softmax Activation = "softmax"
)

// Options tunes decoding. Zero values select the defaults.
type Options struct {
	Threshold           float64
	ConditionActivation Activation
	IncludeRaw          bool
}

func (o Options) withDefaults() Options {
	if o.Threshold <= 0 || o.Threshold >= 1 {
		o.Threshold = DefaultThreshold
	}
	if o.ConditionActivation == "" {
		o.ConditionActivation = Sigmoid
	}
	return o
}

// Result is the multi-task answer returned to callers.
type Result struct {
	SkinType           string                             `json:"skin_type"`
	HairType           string                             `json:"hair_type"`
	ConditionsDetected []string                           `json:"conditions_detected"`
	ConfidenceScores   map[labels.Task]float64            `json:"confidence_scores"`
	ModelType          string                             `json:"model_type"`
	RawProbabilities   map[labels.Task]map[string]float64 `json:"raw_probabilities,omitempty"`
}

// Prediction is the single-task flavour of a result.
type Prediction struct {
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	ModelType  string  `json:"model_type"`
}

// Decoder turns logits into labelled results. It holds no mutable state.
type Decoder struct {
	mappings labels.Mappings
	opts     Options
}

// New returns a decoder for the given mappings.
func New(m labels.Mappings, opts Options) *Decoder {
	return &Decoder{mappings: m, opts: opts.withDefaults()}
}

// Mappings returns the label mappings the decoder validates against.
func (d *Decoder) Mappings() labels.Mappings { return d.mappings }

// Decode splits raw into the per-task heads (skin, hair, conditions), selects
// the top class of each single-label head and every condition above the
// threshold.
func (d *Decoder) Decode(raw []float32, modelType string) (*Result, error) {
	heads, err := d.split(raw)
	if err != nil {
		return nil, err
	}

	res := &Result{
		ConditionsDetected: []string{},
		ConfidenceScores:   make(map[labels.Task]float64, len(labels.Tasks)),
		ModelType:          modelType,
	}
	if d.opts.IncludeRaw {
		res.RawProbabilities = make(map[labels.Task]map[string]float64, len(labels.Tasks))
	}

	for _, task := range labels.Tasks {
		mapping := d.mappings.For(task)
		var probs []float64
		if task == labels.TaskConditions && d.opts.ConditionActivation == Sigmoid {
			probs = sigmoid(heads[task])
		} else {
			probs = softmax(heads[task])
		}
		idx := argmax(probs)
		res.ConfidenceScores[task] = probs[idx]

		switch task {
		case labels.TaskSkinType:
			res.SkinType = mapping[idx]
		case labels.TaskHairType:
			res.HairType = mapping[idx]
		case labels.TaskConditions:
			for i, p := range probs {
				if p > d.opts.Threshold {
					res.ConditionsDetected = append(res.ConditionsDetected, mapping[i])
				}
			}
		}

		if res.RawProbabilities != nil {
			byLabel := make(map[string]float64, len(mapping))
			for i, p := range probs {
				byLabel[mapping[i]] = p
			}
			res.RawProbabilities[task] = byLabel
		}
	}
	return res, nil
}

// DecodeTask returns the single-task prediction for one head of a multi-task
// output.
func (d *Decoder) DecodeTask(raw []float32, task labels.Task, modelType string) (*Prediction, error) {
	heads, err := d.split(raw)
	if err != nil {
		return nil, err
	}
	return DecodeSingle(heads[task], d.mappings.For(task), modelType)
}

// DecodeSingle decodes the output of a single-task model.
func DecodeSingle(raw []float32, mapping labels.Mapping, modelType string) (*Prediction, error) {
	if len(mapping) == 0 {
		return nil, fmt.Errorf("%w: empty label mapping", ErrDecode)
	}
	if len(raw) != len(mapping) {
		return nil, fmt.Errorf("%w: model produced %d classes, mapping has %d", ErrDecode, len(raw), len(mapping))
	}
	if err := checkFinite(raw); err != nil {
		return nil, err
	}
	probs := softmax(raw)
	idx := argmax(probs)
	return &Prediction{
		ClassID:    idx,
		ClassName:  mapping[idx],
		Confidence: probs[idx],
		ModelType:  modelType,
	}, nil
}

func (d *Decoder) split(raw []float32) (map[labels.Task][]float32, error) {
	if want := d.mappings.Total(); len(raw) != want {
		return nil, fmt.Errorf("%w: model produced %d classes, mappings expect %d", ErrDecode, len(raw), want)
	}
	if err := checkFinite(raw); err != nil {
		return nil, err
	}
	heads := make(map[labels.Task][]float32, len(labels.Tasks))
	offset := 0
	for _, task := range labels.Tasks {
		n := len(d.mappings.For(task))
		if n == 0 {
			return nil, fmt.Errorf("%w: task %s has no classes", ErrDecode, task)
		}
		heads[task] = raw[offset : offset+n]
		offset += n
	}
	return heads, nil
}

func checkFinite(raw []float32) error {
	for i, v := range raw {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite logit at index %d", ErrDecode, i)
		}
	}
	return nil
}

// softmax subtracts the maximum logit before exponentiating.
func softmax(logits []float32) []float64 {
	maxLogit := math.Inf(-1)
	for _, v := range logits {
		maxLogit = math.Max(maxLogit, float64(v))
	}
	probs := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		probs[i] = math.Exp(float64(v) - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

func sigmoid(logits []float32) []float64 {
	probs := make([]float64, len(logits))
	for i, v := range logits {
		x := float64(v)
		if x >= 0 {
			probs[i] = 1 / (1 + math.Exp(-x))
		} else {
			e := math.Exp(x)
			probs[i] = e / (1 + e)
		}
	}
	return probs
}

// argmax returns the first index holding the maximum, so exact ties resolve
// to the lower class id.
func argmax(probs []float64) int {
	best := 0
	for i := 1; i < len(probs); i++ {
		if probs[i] > probs[best] {
			best = i
		}
	}
	return best
}
