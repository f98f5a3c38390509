package tsmppt

import (
	"fmt"
	"strings"

	"github.com/cepro/chargecontroller/registers"
)

// GroupError reports that a device group could not be read. The group contributes no records to the poll.
type GroupError struct {
	Group  string
	Metric registers.MetricDef // the metric whose read failed
	Err    error
}

func (e *GroupError) Error() string {
	return fmt.Sprintf("poll %s group: read %q: %v", e.Group, e.Metric.Label, e.Err)
}

func (e *GroupError) Unwrap() error {
	return e.Err
}

// PollError collects the failed groups of a poll. The groups that succeeded are still returned alongside it.
type PollError struct {
	Groups []*GroupError
}

func (e *PollError) Error() string {
	msgs := make([]string, len(e.Groups))
	for i, groupErr := range e.Groups {
		msgs[i] = groupErr.Error()
	}
	return strings.Join(msgs, "; ")
}

func (e *PollError) Unwrap() []error {
	errs := make([]error, len(e.Groups))
	for i, groupErr := range e.Groups {
		errs[i] = groupErr
	}
	return errs
}

// Failed returns the names of the groups that failed, in polling order.
func (e *PollError) Failed() []string {
	names := make([]string, len(e.Groups))
	for i, groupErr := range e.Groups {
		names[i] = groupErr.Group
	}
	return names
}
