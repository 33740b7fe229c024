package workflow

import "fmt"

// DefinitionBuilder builds the chain of a document type. Steps are chained in
// the order they are configured.
type DefinitionBuilder interface {
	// Configure appends a non-terminal step, or returns it if already configured
	Configure(state State) StepConfiguration

	// Final sets the success terminal state
	Final(state State) DefinitionBuilder

	// Edits sets how edits interact with the status
	Edits(policy EditPolicy) DefinitionBuilder

	// DayFlag records which day flag the batch submit of level sets
	DayFlag(level BatchLevel, flag DayFlag) DefinitionBuilder

	// Build validates and returns the definition
	Build() *Definition
}

// StepConfiguration configures a single step
type StepConfiguration interface {
	// Permit adds roles allowed to approve or reject out of the step
	Permit(roles ...Role) StepConfiguration

	// Exclusive disables the CEO override for the step
	Exclusive() StepConfiguration

	// Require lists payload keys the caller must supply to approve the step
	Require(keys ...string) StepConfiguration

	// Batch marks the step as advanced by the batch submit of level
	Batch(level BatchLevel) StepConfiguration

	// BatchOnly is Batch plus refusal of single-document approval
	BatchOnly(level BatchLevel) StepConfiguration
}

type definitionBuilder struct {
	docType  DocumentType
	steps    []*Step
	final    State
	policy   EditPolicy
	dayFlags map[BatchLevel]DayFlag
}

type stepConfig struct {
	step *Step
}

// NewBuilder creates a definition builder for a document type
func NewBuilder(docType DocumentType) DefinitionBuilder {
	return &definitionBuilder{
		docType:  docType,
		dayFlags: make(map[BatchLevel]DayFlag),
	}
}

func (b *definitionBuilder) Configure(state State) StepConfiguration {
	if !state.IsValid() || state == StateRejected {
		panic(fmt.Sprintf("invalid step state: %s", state))
	}
	for _, s := range b.steps {
		if s.State == state {
			return &stepConfig{step: s}
		}
	}
	s := &Step{State: state}
	b.steps = append(b.steps, s)
	return &stepConfig{step: s}
}

func (b *definitionBuilder) Final(state State) DefinitionBuilder {
	if !state.IsValid() || state == StateRejected {
		panic(fmt.Sprintf("invalid final state: %s", state))
	}
	b.final = state
	return b
}

func (b *definitionBuilder) Edits(policy EditPolicy) DefinitionBuilder {
	b.policy = policy
	return b
}

func (b *definitionBuilder) DayFlag(level BatchLevel, flag DayFlag) DefinitionBuilder {
	b.dayFlags[level] = flag
	return b
}

func (b *definitionBuilder) Build() *Definition {
	if b.docType == "" {
		panic("definition without document type")
	}
	if len(b.steps) == 0 {
		panic(fmt.Sprintf("%s: definition without steps", b.docType))
	}
	if b.final == "" {
		panic(fmt.Sprintf("%s: definition without final state", b.docType))
	}

	def := &Definition{
		Type:       b.docType,
		Steps:      make([]Step, 0, len(b.steps)),
		Final:      b.final,
		EditPolicy: b.policy,
		index:      make(map[State]int, len(b.steps)),
		dayFlags:   make(map[BatchLevel]DayFlag, len(b.dayFlags)),
	}
	for i, s := range b.steps {
		if s.State == b.final {
			panic(fmt.Sprintf("%s: final state %s is also a step", b.docType, s.State))
		}
		if len(s.RequiredRoles) == 0 {
			panic(fmt.Sprintf("%s: step %s has no roles", b.docType, s.State))
		}
		if s.BatchLevel != "" {
			if _, ok := b.dayFlags[s.BatchLevel]; !ok {
				panic(fmt.Sprintf("%s: batch level %s has no day flag", b.docType, s.BatchLevel))
			}
		}
		step := *s
		step.RequiredRoles = append([]Role(nil), s.RequiredRoles...)
		step.RequiredPayload = append([]string(nil), s.RequiredPayload...)
		def.Steps = append(def.Steps, step)
		def.index[s.State] = i
	}
	for level, flag := range b.dayFlags {
		def.dayFlags[level] = flag
	}
	return def
}

func (c *stepConfig) Permit(roles ...Role) StepConfiguration {
	for _, r := range roles {
		c.step.RequiredRoles = append(c.step.RequiredRoles, NormalizeRole(string(r)))
	}
	return c
}

func (c *stepConfig) Exclusive() StepConfiguration {
	c.step.Exclusive = true
	return c
}

func (c *stepConfig) Require(keys ...string) StepConfiguration {
	c.step.RequiredPayload = append(c.step.RequiredPayload, keys...)
	return c
}

func (c *stepConfig) Batch(level BatchLevel) StepConfiguration {
	c.step.BatchLevel = level
	return c
}

func (c *stepConfig) BatchOnly(level BatchLevel) StepConfiguration {
	c.step.BatchLevel = level
	c.step.BatchOnly = true
	return c
}
