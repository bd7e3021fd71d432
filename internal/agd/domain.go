package agd

import "fmt"

// DomainTarget is a single host read from the domains file, paired with its
// ordinal position in that file.  A DomainTarget is constructed once by the
// Scheduler and is destroyed once every [ConnectionConfig] variant in the
// retry ladder has been tried or one of them has succeeded.
type DomainTarget struct {
	// Host is the non-empty hostname or IP literal to probe.
	Host string

	// Index is the zero-based ordinal of this target within the domains
	// file, used only for progress reporting and log correlation.
	Index int
}

// String implements the [fmt.Stringer] interface for DomainTarget.
func (t DomainTarget) String() string {
	return fmt.Sprintf("%s (#%d)", t.Host, t.Index)
}
