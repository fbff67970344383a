// Package intent holds the contract between the push payloads and the
// receiving device's activation handler: which inbound actions hand control
// to the application runtime.
package intent

// ActionCallAccept is raised by the device call UI when the user accepts.
const ActionCallAccept = "com.hiennv.flutter_callkit_incoming.ACTION_CALL_ACCEPT"

type Decision int

const (
	// PassThrough leaves the activation untouched.
	PassThrough Decision = iota
	// Forward hands control to the application runtime. The call payload is
	// not inspected here.
	Forward
)

func (d Decision) String() string {
	if d == Forward {
		return "forward"
	}
	return "pass_through"
}

// Route decides how an inbound activation action is handled.
func Route(action string) Decision {
	if action == ActionCallAccept {
		return Forward
	}
	return PassThrough
}
