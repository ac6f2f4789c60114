package sensor

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Observation is one decoded, physically scaled measurement.
type Observation interface {
	// Sensor is the canonical name of the family that produced it.
	Sensor() string
	// Time is the acquisition time in seconds since the epoch.
	Time() int64
	// Fields lists the measured values in declaration order.
	Fields() []Field
	// Render formats the observation for display.
	Render(mode RenderMode) (string, error)
}

// Meta describes a field for downstream publishers.
type Meta struct {
	LongName string
	Unit     string
	Category string
}

// Field is one named value of an Observation.
type Field struct {
	Name  string
	Value float64
	Meta  Meta

	precision int
	integer   bool
}

// String formats the value the way RenderCSV does.
func (f Field) String() string {
	if f.integer {
		return strconv.FormatInt(int64(f.Value), 10)
	}
	return strconv.FormatFloat(f.Value, 'f', f.precision, 64)
}

// RenderMode selects an Observation text layout.
type RenderMode int

const (
	RenderDefault RenderMode = iota
	// RenderCSV is a comma separated row starting with the time.
	RenderCSV
	// RenderHeader is the column names matching RenderCSV.
	RenderHeader
	// RenderPM summarises the mass concentrations.
	RenderPM
	// RenderNum summarises the number concentrations.
	RenderNum
	// RenderCF shows the ratio between atmospheric and CF=1 concentrations.
	RenderCF
	// RenderRaw shows the CF=1 concentrations.
	RenderRaw
	// RenderAtm summarises temperature, humidity and pressure.
	RenderAtm
)

var renderModeNames = map[RenderMode]string{
	RenderDefault: "default",
	RenderCSV:     "csv",
	RenderHeader:  "header",
	RenderPM:      "pm",
	RenderNum:     "num",
	RenderCF:      "cf",
	RenderRaw:     "raw",
	RenderAtm:     "atm",
}

func (m RenderMode) String() string {
	if s, ok := renderModeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseRenderMode maps a CLI format name onto a RenderMode.
func ParseRenderMode(s string) (RenderMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return RenderDefault, nil
	}
	for m, name := range renderModeNames {
		if name == s {
			return m, nil
		}
	}
	return RenderDefault, fmt.Errorf("%w: %q", ErrUnsupportedRender, s)
}

// RawMessage is an undecoded answer buffer stamped with its read time.
type RawMessage struct {
	Time   int64
	Sensor string
	Data   []byte
}

// Hex returns the buffer as lower case hex.
func (m RawMessage) Hex() string {
	return hex.EncodeToString(m.Data)
}

// ParseRawMessage is the inverse of the capture row layout.
func ParseRawMessage(t int64, sensorName, hexData string) (RawMessage, error) {
	data, err := hex.DecodeString(strings.TrimSpace(hexData))
	if err != nil {
		return RawMessage{}, fmt.Errorf("invalid hex message: %w", err)
	}
	return RawMessage{Time: t, Sensor: sensorName, Data: data}, nil
}

// fieldsOf walks the exported fields of an observation struct, descending into
// embedded structs. Fields without an obs tag, such as the timestamp, are not
// measurements and are skipped.
func fieldsOf(v any) []Field {
	var out []Field
	collectFields(reflect.ValueOf(v), &out)
	return out
}

func collectFields(v reflect.Value, out *[]Field) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		fv := v.Field(i)
		if sf.Anonymous && sf.Type.Kind() == reflect.Struct {
			collectFields(fv, out)
			continue
		}
		tag, ok := sf.Tag.Lookup("obs")
		if !ok {
			continue
		}
		f := Field{Name: jsonName(sf)}
		parts := strings.Split(tag, ",")
		for len(parts) < 4 {
			parts = append(parts, "")
		}
		f.Meta = Meta{LongName: parts[0], Unit: parts[1], Category: parts[2]}
		f.precision = 1
		if p, err := strconv.Atoi(parts[3]); err == nil {
			f.precision = p
		}
		switch fv.Kind() {
		case reflect.Int, reflect.Int64, reflect.Int32:
			f.Value = float64(fv.Int())
			f.integer = true
		case reflect.Float64, reflect.Float32:
			f.Value = fv.Float()
		default:
			panic(fmt.Sprintf("sensor: field %s has unsupported kind %s", sf.Name, fv.Kind()))
		}
		*out = append(*out, f)
	}
}

func jsonName(sf reflect.StructField) string {
	if tag, ok := sf.Tag.Lookup("json"); ok {
		if name, _, _ := strings.Cut(tag, ","); name != "" {
			return name
		}
	}
	return strings.ToLower(sf.Name)
}

// renderCommon handles the layouts every observation type supports.
func renderCommon(o Observation, mode RenderMode) (string, bool) {
	switch mode {
	case RenderCSV:
		fields := o.Fields()
		cols := make([]string, 0, len(fields)+1)
		cols = append(cols, strconv.FormatInt(o.Time(), 10))
		for _, f := range fields {
			cols = append(cols, f.String())
		}
		return strings.Join(cols, ", "), true
	case RenderHeader:
		fields := o.Fields()
		cols := make([]string, 0, len(fields)+1)
		cols = append(cols, "time")
		for _, f := range fields {
			cols = append(cols, f.Name)
		}
		return strings.Join(cols, ", "), true
	}
	return "", false
}

func unsupported(o Observation, mode RenderMode) error {
	return fmt.Errorf("%w: %s has no %q layout", ErrUnsupportedRender, o.Sensor(), mode)
}

// date formats an observation time in local time.
func date(t int64) string {
	return time.Unix(t, 0).Format(time.DateTime)
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
