package ingest

import "fmt"

// LinkState is the reader's lifecycle state.
//
//	Stopped --Activate--> Running --Deactivate--> Stopped
//	any     --RequestExit--> Terminated (final)
type LinkState int32

const (
	Stopped LinkState = iota
	Running
	Terminated
)

func (s LinkState) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Running:
		return "Running"
	case Terminated:
		return "Terminated"
	default:
		return fmt.Sprintf("LinkState(%d)", int32(s))
	}
}

// ResyncPolicy decides what happens to the accumulated bytes after the
// framer reports a corrupt frame or a packet fails to decode.
type ResyncPolicy int

const (
	// ResyncSkip drops the offending leading byte and parses again at once.
	ResyncSkip ResyncPolicy = iota
	// ResyncWait drops the offending leading byte and parses again only
	// after the next read.
	ResyncWait
	// ResyncFlush throws away everything accumulated so far.
	ResyncFlush
)

// ParseResyncPolicy maps the configuration spelling to a ResyncPolicy.
func ParseResyncPolicy(s string) (ResyncPolicy, error) {
	switch s {
	case "skip", "":
		return ResyncSkip, nil
	case "wait":
		return ResyncWait, nil
	case "flush":
		return ResyncFlush, nil
	default:
		return ResyncSkip, fmt.Errorf("unsupported resync policy %q", s)
	}
}

func (p ResyncPolicy) String() string {
	switch p {
	case ResyncSkip:
		return "skip"
	case ResyncWait:
		return "wait"
	case ResyncFlush:
		return "flush"
	default:
		return fmt.Sprintf("ResyncPolicy(%d)", int(p))
	}
}
