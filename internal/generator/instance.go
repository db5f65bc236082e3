package generator

import (
	"path"

	"github.com/vk/benchgrid/internal/conf"
)

// ExperimentInstance is one fully-resolved point in an experiment block's
// combinatorial space. Instances are immutable after creation; the only
// exception is repeat-index stamping during repeat materialization.
type ExperimentInstance struct {
	// Name is the expanded experiment name within its workload.
	Name string
	// Namespace is the owning scope, e.g. "gromacs.water_bare".
	Namespace string
	// Index is the instance's position within its generating block, stable
	// across regeneration.
	Index int

	// Variables is the resolved scalar binding snapshot.
	Variables *conf.VariableTable
	Tags      []string

	// Repeat metadata.
	NRepeats     int
	IsRepeatBase bool
	RepeatIndex  int

	// Template experiments are rendered but never dispatched directly; they
	// exist as chain targets.
	Template bool

	// Chain metadata. ChainOrder lists the full names of chained children in
	// execution order; ChainParent is set on children only.
	ChainOrder  []string
	ChainParent string
	Order       conf.ChainOrder

	// WorkdirRel is the instance working directory relative to the workload
	// experiment root; chained children nest under their parent.
	WorkdirRel string

	// Source is the merged context the instance was generated from. It is
	// shared between instances of one block and must not be mutated.
	Source *conf.Context
}

// FullName returns the namespace-qualified experiment name.
func (i *ExperimentInstance) FullName() string {
	if i.Namespace == "" {
		return i.Name
	}
	return i.Namespace + "." + i.Name
}

// MatchesNamespace reports whether the instance's full name matches a
// namespace glob such as "gromacs.water_*.scaling_1".
func (i *ExperimentInstance) MatchesNamespace(pattern string) bool {
	ok, err := path.Match(pattern, i.FullName())
	return err == nil && ok
}

// IsChained reports whether the instance is a chained child.
func (i *ExperimentInstance) IsChained() bool {
	return i.ChainParent != ""
}
