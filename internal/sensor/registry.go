// Package sensor holds the wire protocol of every supported UART particulate
// matter and environmental sensor, and the observations decoded from it.
package sensor

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// DefaultBaud is the line speed used by every family unless stated otherwise.
const DefaultBaud = 9600

// Builder turns a decoded numeric tuple into an Observation. It applies the
// family's unit scaling and consistency rules.
type Builder func(t int64, values []float64) (Observation, error)

// Sensor is a registry entry binding a family's commands, codec and timing.
// Entries are built at start-up and never modified.
type Sensor struct {
	Name     string
	Aliases  []string
	Commands Commands
	Baud     int
	PreHeat  time.Duration
	// Doc is a one line description for `pms info`.
	Doc string

	codec *codec
	build Builder
}

// Command returns the wire command for op.
func (s *Sensor) Command(op Op) Cmd {
	return s.Commands.Get(op)
}

// Values decodes buf as the answer to op and returns the raw numeric tuple.
func (s *Sensor) Values(buf []byte, op Op) ([]float64, error) {
	return s.codec.decode(buf, s.Command(op))
}

// Decode turns a passive read answer into an Observation stamped with t.
func (s *Sensor) Decode(buf []byte, t int64) (Observation, error) {
	values, err := s.Values(buf, PassiveRead)
	if err != nil {
		return nil, err
	}
	return s.build(t, values)
}

// Check reports whether buf looks like an answer to op from this family.
func (s *Sensor) Check(buf []byte, op Op) bool {
	_, err := s.Values(buf, op)
	return err == nil
}

// Describe summarises the entry for humans.
func (s *Sensor) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", s.Name, s.Doc)
	if len(s.Aliases) > 0 {
		fmt.Fprintf(&b, "  aliases:  %s\n", strings.Join(s.Aliases, ", "))
	}
	fmt.Fprintf(&b, "  baud:     %d\n", s.Baud)
	if s.PreHeat > 0 {
		fmt.Fprintf(&b, "  pre-heat: %s\n", s.PreHeat)
	}
	return b.String()
}

func (s *Sensor) String() string { return s.Name }

// catalogue lists every supported family. Lookup order does not matter since
// names and aliases are unique.
var catalogue = []*Sensor{
	pmsx003Sensor,
	pms3003Sensor,
	pms5003sSensor,
	pms5003tSensor,
	pms5003stSensor,
	sds01xSensor,
	sds198Sensor,
	hpma115s0Sensor,
	hpma115c0Sensor,
	sps30Sensor,
	mcu680Sensor,
	mhz19bSensor,
	zh0xxSensor,
}

var index = buildIndex(catalogue)

func buildIndex(sensors []*Sensor) map[string]*Sensor {
	idx := make(map[string]*Sensor)
	for _, s := range sensors {
		for _, name := range append([]string{s.Name}, s.Aliases...) {
			key := strings.ToUpper(name)
			if prev, dup := idx[key]; dup {
				panic(fmt.Sprintf("sensor: %q registered by %s and %s", name, prev.Name, s.Name))
			}
			idx[key] = s
		}
	}
	return idx
}

// Lookup resolves a family name or alias. Matching ignores case.
func Lookup(name string) (*Sensor, error) {
	if s, ok := index[strings.ToUpper(strings.TrimSpace(name))]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: %q (supported: %s)", ErrUnknownSensor, name, strings.Join(Names(), ", "))
}

// Names returns the canonical family names, sorted.
func Names() []string {
	names := make([]string, 0, len(catalogue))
	for _, s := range catalogue {
		names = append(names, s.Name)
	}
	slices.Sort(names)
	return names
}

// All returns the catalogue sorted by name.
func All() []*Sensor {
	out := slices.Clone(catalogue)
	slices.SortFunc(out, func(a, b *Sensor) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func expect(values []float64, n int, name string) error {
	if len(values) != n {
		return fmt.Errorf("%w: %s expects %d values, got %d", ErrWrongFormat, name, n, len(values))
	}
	return nil
}
