package cfg

import "fmt"

// UnknownRecursionLabelError reports a `continue` whose label does not
// match any enclosing `rec` block.
type UnknownRecursionLabelError struct {
	Label string
}

func (e *UnknownRecursionLabelError) Error() string {
	return fmt.Sprintf("cfg: continue %q has no enclosing rec %q", e.Label, e.Label)
}

// UnknownSubProtocolError reports a `do` call to a protocol the
// resolver does not know about. registry.Validate is expected to catch
// this earlier; the builder re-checks defensively since it can be used
// standalone.
type UnknownSubProtocolError struct {
	Target string
}

func (e *UnknownSubProtocolError) Error() string {
	return fmt.Sprintf("cfg: do %s: unknown protocol", e.Target)
}
