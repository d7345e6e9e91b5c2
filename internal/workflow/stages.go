// Package workflow implements the application lifecycle: the stage map,
// the edit permission gate, the pure transition functions, and the Engine
// that persists their results.
package workflow

import (
	"fmt"

	"github.com/rogers-f/estate-workflow/internal/domain"
)

// Stage is one coarse phase of the workflow and the last step index it owns.
type Stage struct {
	Number        int `json:"stage_number" mapstructure:"stage_number"`
	LastStepIndex int `json:"last_step_index" mapstructure:"last_step_index"`
}

// StageMap is an ordered, contiguous list of stages. Stage N owns the steps
// after stage N-1's LastStepIndex up to and including its own.
type StageMap struct {
	stages []Stage
}

// Default workflow layout: 17 steps split into 4 stages, integration work
// starting at step 12.
const (
	DefaultTotalSteps            = 17
	DefaultIntegrationStartIndex = 12
)

var defaultStages = []Stage{
	{Number: 1, LastStepIndex: 5},
	{Number: 2, LastStepIndex: 8},
	{Number: 3, LastStepIndex: 11},
	{Number: 4, LastStepIndex: 16},
}

// DefaultStageMap returns the standard 4-stage layout.
func DefaultStageMap() StageMap {
	m, _ := NewStageMap(defaultStages)
	return m
}

// NewStageMap validates the stages and copies them into a StageMap.
// Stages must be numbered 1..N in order with strictly increasing last indices.
func NewStageMap(stages []Stage) (StageMap, error) {
	if len(stages) == 0 {
		return StageMap{}, domain.NewEngineError(domain.ErrStageMapInvalid.Code, "at least one stage is required")
	}
	prev := -1
	for i, s := range stages {
		if s.Number != i+1 {
			return StageMap{}, domain.NewEngineError(domain.ErrStageMapInvalid.Code,
				fmt.Sprintf("stage at position %d has number %d, want %d", i, s.Number, i+1))
		}
		if s.LastStepIndex <= prev {
			return StageMap{}, domain.NewEngineError(domain.ErrStageMapInvalid.Code,
				fmt.Sprintf("stage %d last step %d does not follow %d", s.Number, s.LastStepIndex, prev))
		}
		prev = s.LastStepIndex
	}
	out := make([]Stage, len(stages))
	copy(out, stages)
	return StageMap{stages: out}, nil
}

// Stages returns a copy of the configured stages.
func (m StageMap) Stages() []Stage {
	out := make([]Stage, len(m.stages))
	copy(out, m.stages)
	return out
}

// TotalSteps is one past the last step index of the final stage.
func (m StageMap) TotalSteps() int {
	if len(m.stages) == 0 {
		return 0
	}
	return m.stages[len(m.stages)-1].LastStepIndex + 1
}

// StepStage returns the smallest stage whose last step is >= index.
// Indices beyond every stage resolve to stage 1.
func (m StageMap) StepStage(index int) int {
	for _, s := range m.stages {
		if s.LastStepIndex >= index {
			return s.Number
		}
	}
	return 1
}

// Stage looks up a stage by number.
func (m StageMap) Stage(number int) (Stage, bool) {
	if number < 1 || number > len(m.stages) {
		return Stage{}, false
	}
	return m.stages[number-1], true
}

// StageRange returns the inclusive step range owned by a stage.
func (m StageMap) StageRange(number int) (start, end int, ok bool) {
	s, ok := m.Stage(number)
	if !ok {
		return 0, 0, false
	}
	start = 0
	if number > 1 {
		start = m.stages[number-2].LastStepIndex + 1
	}
	return start, s.LastStepIndex, true
}

// IsStageBoundary reports whether index is the last step of its stage.
func (m StageMap) IsStageBoundary(index int) bool {
	s, ok := m.Stage(m.StepStage(index))
	return ok && s.LastStepIndex == index
}
