package labels

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrUnknownTask is returned for task names outside Tasks.
var ErrUnknownTask = errors.New("unknown task")

// Task identifies one head of the multi-task model.
type Task string

const (
	TaskSkinType   Task = "skin_type"
	TaskHairType   Task = "hair_type"
	TaskConditions Task = "conditions"
)

// Tasks lists the heads in the order the models emit them.
var Tasks = []Task{TaskSkinType, TaskHairType, TaskConditions}

// ParseTask maps a task name onto a known Task.
func ParseTask(name string) (Task, error) {
	for _, t := range Tasks {
		if string(t) == name {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrUnknownTask, name)
}

// Mapping is the ordered label list for one task. The index is the class id.
type Mapping []string

// Contains reports whether label is one of the mapping's classes.
func (m Mapping) Contains(label string) bool {
	return m.Index(label) >= 0
}

// Index returns the class id of label or -1.
func (m Mapping) Index(label string) int {
	for i, l := range m {
		if l == label {
			return i
		}
	}
	return -1
}

// Mappings holds the label lists of every task. Values are treated as read-only
// once constructed.
type Mappings struct {
	SkinType   Mapping `json:"skin_type"`
	HairType   Mapping `json:"hair_type"`
	Conditions Mapping `json:"conditions"`
}

// Default returns the built-in label set the bundled models were exported with.
func Default() Mappings {
	return Mappings{
		SkinType:   Mapping{"normal", "dry", "oily", "combination", "sensitive"},
		HairType:   Mapping{"straight", "wavy", "curly", "coily"},
		Conditions: Mapping{"acne", "rosacea", "eczema", "hyperpigmentation", "dandruff", "hair_thinning"},
	}
}

// For returns the mapping of a task.
func (m Mappings) For(task Task) Mapping {
	switch task {
	case TaskSkinType:
		return m.SkinType
	case TaskHairType:
		return m.HairType
	case TaskConditions:
		return m.Conditions
	}
	return nil
}

// Total is the length of the concatenated output vector a multi-task model must produce.
func (m Mappings) Total() int {
	return len(m.SkinType) + len(m.HairType) + len(m.Conditions)
}

// Validate checks that every task has at least one class and no duplicates.
func (m Mappings) Validate() error {
	for _, task := range Tasks {
		mapping := m.For(task)
		if len(mapping) == 0 {
			return fmt.Errorf("labels: task %s has no classes", task)
		}
		seen := make(map[string]struct{}, len(mapping))
		for _, l := range mapping {
			if l == "" {
				return fmt.Errorf("labels: task %s has an empty label", task)
			}
			if _, dup := seen[l]; dup {
				return fmt.Errorf("labels: task %s lists %q twice", task, l)
			}
			seen[l] = struct{}{}
		}
	}
	return nil
}

// Load reads a JSON label file. An empty path yields the defaults.
func Load(path string) (Mappings, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Mappings{}, fmt.Errorf("labels: read %s: %w", path, err)
	}
	var m Mappings
	if err := json.Unmarshal(raw, &m); err != nil {
		return Mappings{}, fmt.Errorf("labels: parse %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return Mappings{}, err
	}
	return m, nil
}
