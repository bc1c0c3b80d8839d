package game

import "fmt"

// Flavor identifies which kind of participant device this process is.
type Flavor string

const (
	FlavorDisplay Flavor = "display" // shared audience surface, read-only
	FlavorBuzzer  Flavor = "buzzer"  // physical or virtual buzzer device
	FlavorAdmin   Flavor = "admin"   // host control surface
)

// Capabilities gates which outbound commands a client flavor may produce.
// All flavors share the same core; they differ only in this set, passed at
// construction.
type Capabilities struct {
	SelectGame     bool // may choose which game to join
	Buzz           bool // may report buzzer presses
	RegisterBuzzer bool // may register a virtual buzzer for a team
}

// CapabilitiesFor returns the capability set for a flavor.
func CapabilitiesFor(flavor Flavor) (Capabilities, error) {
	switch flavor {
	case FlavorDisplay:
		return Capabilities{}, nil
	case FlavorBuzzer:
		return Capabilities{Buzz: true, RegisterBuzzer: true}, nil
	case FlavorAdmin:
		return Capabilities{SelectGame: true, Buzz: true, RegisterBuzzer: true}, nil
	default:
		return Capabilities{}, fmt.Errorf("unknown client flavor: %s", flavor)
	}
}
