package sensor

import "fmt"

// Op names one of the five wire operations every sensor family supports.
type Op int

const (
	PassiveRead Op = iota
	PassiveMode
	ActiveMode
	Sleep
	Wake
)

// Ops lists every operation in table order.
var Ops = []Op{PassiveRead, PassiveMode, ActiveMode, Sleep, Wake}

func (o Op) String() string {
	switch o {
	case PassiveRead:
		return "passive_read"
	case PassiveMode:
		return "passive_mode"
	case ActiveMode:
		return "active_mode"
	case Sleep:
		return "sleep"
	case Wake:
		return "wake"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Cmd is a command to send to the sensor together with the header and
// length of the answer it is expected to produce.
type Cmd struct {
	Command      []byte
	AnswerHeader []byte
	AnswerLength int
}

// Commands is the fixed command table of one sensor family.
type Commands struct {
	PassiveRead Cmd
	PassiveMode Cmd
	ActiveMode  Cmd
	Sleep       Cmd
	Wake        Cmd
}

// Get returns the command for op. It panics on an unknown op, which can only
// come from a programming error.
func (c Commands) Get(op Op) Cmd {
	switch op {
	case PassiveRead:
		return c.PassiveRead
	case PassiveMode:
		return c.PassiveMode
	case ActiveMode:
		return c.ActiveMode
	case Sleep:
		return c.Sleep
	case Wake:
		return c.Wake
	default:
		panic(fmt.Sprintf("sensor: unknown command %v", op))
	}
}
