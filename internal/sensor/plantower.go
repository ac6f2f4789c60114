package sensor

import (
	"encoding/binary"
	"fmt"
)

// Plantower modules answer with "BM", a big-endian payload length, the
// payload as big-endian words and a 16-bit sum of everything before it.

var plantowerCommands = Commands{
	PassiveRead: Cmd{[]byte{0x42, 0x4D, 0xE2, 0x00, 0x00, 0x01, 0x71}, []byte{0x42, 0x4D, 0x00, 0x1C}, 32},
	PassiveMode: Cmd{[]byte{0x42, 0x4D, 0xE1, 0x00, 0x00, 0x01, 0x70}, []byte{0x42, 0x4D, 0x00, 0x04}, 8},
	ActiveMode:  Cmd{[]byte{0x42, 0x4D, 0xE1, 0x00, 0x01, 0x01, 0x71}, []byte{0x42, 0x4D, 0x00, 0x1C}, 32},
	Sleep:       Cmd{[]byte{0x42, 0x4D, 0xE4, 0x00, 0x00, 0x01, 0x73}, []byte{0x42, 0x4D, 0x00, 0x04}, 8},
	Wake:        Cmd{[]byte{0x42, 0x4D, 0xE4, 0x00, 0x01, 0x01, 0x74}, []byte{0x42, 0x4D, 0x00, 0x1C}, 32},
}

// plantowerCommandsLong is the table of modules with a 0x24 byte payload.
var plantowerCommandsLong = withDataAnswer(plantowerCommands, []byte{0x42, 0x4D, 0x00, 0x24}, 40)

// PMS3003 only streams; it takes no commands.
var pms3003Commands = Commands{
	PassiveRead: Cmd{nil, []byte{0x42, 0x4D, 0x00, 0x14}, 24},
	PassiveMode: Cmd{nil, []byte{0x42, 0x4D, 0x00, 0x14}, 24},
	ActiveMode:  Cmd{nil, []byte{0x42, 0x4D, 0x00, 0x14}, 24},
	Sleep:       Cmd{nil, []byte{0x42, 0x4D, 0x00, 0x14}, 24},
	Wake:        Cmd{nil, []byte{0x42, 0x4D, 0x00, 0x14}, 24},
}

func withDataAnswer(c Commands, header []byte, length int) Commands {
	c.PassiveRead.AnswerHeader, c.PassiveRead.AnswerLength = header, length
	c.ActiveMode.AnswerHeader, c.ActiveMode.AnswerLength = header, length
	c.Wake.AnswerHeader, c.Wake.AnswerLength = header, length
	return c
}

func plantowerCodec(records int) *codec {
	return &codec{
		payloadStart: 4,
		payloadTrim:  2,
		checksum: func(msg []byte) (int, int) {
			n := len(msg) - 2
			return int(binary.BigEndian.Uint16(msg[n:])), sum(msg[:n])
		},
		signature: func(header []byte, length int) {
			if len(header) != 4 {
				panic(fmt.Sprintf("plantower: wrong header length %d", len(header)))
			}
			if header[0] != 'B' || header[1] != 'M' {
				panic(fmt.Sprintf("plantower: wrong header start %X", header))
			}
			if want := 4 + int(binary.BigEndian.Uint16(header[2:])); length != want {
				panic(fmt.Sprintf("plantower: wrong payload length %d != %d", length, want))
			}
		},
		unpack:  beUint16s,
		records: [2]int{0, records},
	}
}

var pmsx003Sensor = &Sensor{
	Name:     "PMSx003",
	Aliases:  []string{"PMS1003", "PMS5003", "PMS7003", "PMSA003", "default"},
	Commands: plantowerCommands,
	Baud:     DefaultBaud,
	Doc:      "Plantower PMS1003, PMS5003, PMS7003 and PMSA003 PM1/PM2.5/PM10 sensors",
	codec:    plantowerCodec(12),
	build:    buildPMSx003,
}

var pms3003Sensor = &Sensor{
	Name:     "PMS3003",
	Commands: pms3003Commands,
	Baud:     DefaultBaud,
	Doc:      "Plantower PMS3003 PM1/PM2.5/PM10 sensor, streaming only",
	codec:    plantowerCodec(6),
	build:    buildPMS3003,
}

var pms5003sSensor = &Sensor{
	Name:     "PMS5003S",
	Commands: plantowerCommands,
	Baud:     DefaultBaud,
	Doc:      "Plantower PMS5003S PM1/PM2.5/PM10 and formaldehyde sensor",
	codec:    plantowerCodec(13),
	build:    buildPMS5003S,
}

var pms5003tSensor = &Sensor{
	Name:     "PMS5003T",
	Commands: plantowerCommands,
	Baud:     DefaultBaud,
	Doc:      "Plantower PMS5003T PM1/PM2.5/PM10, temperature and humidity sensor",
	codec:    plantowerCodec(12),
	build:    buildPMS5003T,
}

var pms5003stSensor = &Sensor{
	Name:     "PMS5003ST",
	Commands: plantowerCommandsLong,
	Baud:     DefaultBaud,
	Doc:      "Plantower PMS5003ST PM1/PM2.5/PM10, formaldehyde, temperature and humidity sensor",
	codec:    plantowerCodec(15),
	build:    buildPMS5003ST,
}

// PMS3003 holds the mass concentrations reported by a Plantower PMS3003.
type PMS3003 struct {
	Timestamp int64 `json:"time"`
	Raw01     int   `json:"raw01" obs:"PM1 (CF=1),ug/m3,concentration"`
	Raw25     int   `json:"raw25" obs:"PM2.5 (CF=1),ug/m3,concentration"`
	Raw10     int   `json:"raw10" obs:"PM10 (CF=1),ug/m3,concentration"`
	PM01      int   `json:"pm01" obs:"PM1,ug/m3,concentration"`
	PM25      int   `json:"pm25" obs:"PM2.5,ug/m3,concentration"`
	PM10      int   `json:"pm10" obs:"PM10,ug/m3,concentration"`
}

func buildPMS3003(t int64, v []float64) (Observation, error) {
	if err := expect(v, 6, "PMS3003"); err != nil {
		return nil, err
	}
	return PMS3003{
		Timestamp: t,
		Raw01:     int(v[0]), Raw25: int(v[1]), Raw10: int(v[2]),
		PM01: int(v[3]), PM25: int(v[4]), PM10: int(v[5]),
	}, nil
}

func (o PMS3003) Sensor() string  { return "PMS3003" }
func (o PMS3003) Time() int64     { return o.Timestamp }
func (o PMS3003) Fields() []Field { return fieldsOf(o) }

func (o PMS3003) Render(mode RenderMode) (string, error) {
	if s, ok := renderCommon(o, mode); ok {
		return s, nil
	}
	switch mode {
	case RenderDefault, RenderPM:
		return o.pm(), nil
	case RenderRaw:
		return o.raw(), nil
	case RenderCF:
		return o.cf(), nil
	}
	return "", unsupported(o, mode)
}

func (o PMS3003) pm() string {
	return fmt.Sprintf("%s: PM1 %.1f, PM2.5 %.1f, PM10 %.1f ug/m3", date(o.Timestamp),
		float64(o.PM01), float64(o.PM25), float64(o.PM10))
}

func (o PMS3003) raw() string {
	return fmt.Sprintf("%s: PM1 %d, PM2.5 %d, PM10 %d ug/m3", date(o.Timestamp), o.Raw01, o.Raw25, o.Raw10)
}

func (o PMS3003) cf() string {
	return fmt.Sprintf("%s: CF1 %.0f%%, CF2.5 %.0f%%, CF10 %.0f%%", date(o.Timestamp),
		100*ratio(o.PM01, o.Raw01), 100*ratio(o.PM25, o.Raw25), 100*ratio(o.PM10, o.Raw10))
}

// PMSx003 adds number concentrations per 0.3..10 um size bin.
type PMSx003 struct {
	PMS3003
	N0_3  float64 `json:"n0_3" obs:"N0.3,#/cm3,counts,2"`
	N0_5  float64 `json:"n0_5" obs:"N0.5,#/cm3,counts,2"`
	N1_0  float64 `json:"n1_0" obs:"N1.0,#/cm3,counts,2"`
	N2_5  float64 `json:"n2_5" obs:"N2.5,#/cm3,counts,2"`
	N5_0  float64 `json:"n5_0" obs:"N5.0,#/cm3,counts,2"`
	N10_0 float64 `json:"n10_0" obs:"N10,#/cm3,counts,2"`
}

// newPMSx003 scales the counts from #/0.1L to #/cm3. A zero in the smallest
// bin alongside a positive PM10 only comes from a corrupted message.
func newPMSx003(t int64, v []float64) (PMSx003, error) {
	o := PMSx003{
		PMS3003: PMS3003{
			Timestamp: t,
			Raw01:     int(v[0]), Raw25: int(v[1]), Raw10: int(v[2]),
			PM01: int(v[3]), PM25: int(v[4]), PM10: int(v[5]),
		},
		N0_3: v[6] / 100, N0_5: v[7] / 100, N1_0: v[8] / 100,
		N2_5: v[9] / 100, N5_0: v[10] / 100, N10_0: v[11] / 100,
	}
	if o.N0_3 == 0 && o.PM10 > 0 {
		return PMSx003{}, fmt.Errorf("%w: N0.3 == 0 with PM10 == %d", ErrInconsistentObservation, o.PM10)
	}
	return o, nil
}

func buildPMSx003(t int64, v []float64) (Observation, error) {
	if err := expect(v, 12, "PMSx003"); err != nil {
		return nil, err
	}
	o, err := newPMSx003(t, v)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (o PMSx003) Sensor() string  { return "PMSx003" }
func (o PMSx003) Fields() []Field { return fieldsOf(o) }

func (o PMSx003) Render(mode RenderMode) (string, error) {
	return renderPMSx003(o, o, mode)
}

func (o PMSx003) num() string {
	return fmt.Sprintf("%s: N0.3 %.2f, N0.5 %.2f, N1.0 %.2f, N2.5 %.2f, N5.0 %.2f, N10 %.2f #/cm3",
		date(o.Timestamp), o.N0_3, o.N0_5, o.N1_0, o.N2_5, o.N5_0, o.N10_0)
}

// renderPMSx003 serves every type embedding PMSx003; outer supplies the
// field list for the CSV layouts.
func renderPMSx003(outer Observation, o PMSx003, mode RenderMode) (string, error) {
	if s, ok := renderCommon(outer, mode); ok {
		return s, nil
	}
	switch mode {
	case RenderDefault, RenderPM:
		return o.pm(), nil
	case RenderRaw:
		return o.raw(), nil
	case RenderCF:
		return o.cf(), nil
	case RenderNum:
		return o.num(), nil
	}
	return "", unsupported(outer, mode)
}

// PMS5003S adds formaldehyde.
type PMS5003S struct {
	PMSx003
	HCHO float64 `json:"HCHO" obs:"formaldehyde,mg/m3,concentration,3"`
}

func buildPMS5003S(t int64, v []float64) (Observation, error) {
	if err := expect(v, 13, "PMS5003S"); err != nil {
		return nil, err
	}
	o, err := newPMSx003(t, v[:12])
	if err != nil {
		return nil, err
	}
	return PMS5003S{PMSx003: o, HCHO: v[12] / 1000}, nil
}

func (o PMS5003S) Sensor() string  { return "PMS5003S" }
func (o PMS5003S) Fields() []Field { return fieldsOf(o) }

func (o PMS5003S) Render(mode RenderMode) (string, error) {
	return renderPMSx003(o, o.PMSx003, mode)
}

// PMS5003T replaces the two largest size bins with temperature and humidity.
type PMS5003T struct {
	PMS3003
	N0_3 float64 `json:"n0_3" obs:"N0.3,#/cm3,counts,2"`
	N0_5 float64 `json:"n0_5" obs:"N0.5,#/cm3,counts,2"`
	N1_0 float64 `json:"n1_0" obs:"N1.0,#/cm3,counts,2"`
	N2_5 float64 `json:"n2_5" obs:"N2.5,#/cm3,counts,2"`
	Temp float64 `json:"temp" obs:"temperature,°C,temperature"`
	RHum float64 `json:"rhum" obs:"relative humidity,%,humidity"`
}

func buildPMS5003T(t int64, v []float64) (Observation, error) {
	if err := expect(v, 12, "PMS5003T"); err != nil {
		return nil, err
	}
	o := PMS5003T{
		PMS3003: PMS3003{
			Timestamp: t,
			Raw01:     int(v[0]), Raw25: int(v[1]), Raw10: int(v[2]),
			PM01: int(v[3]), PM25: int(v[4]), PM10: int(v[5]),
		},
		N0_3: v[6] / 100, N0_5: v[7] / 100, N1_0: v[8] / 100, N2_5: v[9] / 100,
		Temp: signed16(v[10]) / 10,
		RHum: v[11] / 10,
	}
	if o.N0_3 == 0 && o.PM10 > 0 {
		return nil, fmt.Errorf("%w: N0.3 == 0 with PM10 == %d", ErrInconsistentObservation, o.PM10)
	}
	return o, nil
}

func (o PMS5003T) Sensor() string  { return "PMS5003T" }
func (o PMS5003T) Fields() []Field { return fieldsOf(o) }

func (o PMS5003T) Render(mode RenderMode) (string, error) {
	if s, ok := renderCommon(o, mode); ok {
		return s, nil
	}
	switch mode {
	case RenderDefault, RenderPM:
		return o.pm(), nil
	case RenderRaw:
		return o.raw(), nil
	case RenderCF:
		return o.cf(), nil
	case RenderNum:
		return fmt.Sprintf("%s: N0.3 %.2f, N0.5 %.2f, N1.0 %.2f, N2.5 %.2f #/cm3",
			date(o.Timestamp), o.N0_3, o.N0_5, o.N1_0, o.N2_5), nil
	case RenderAtm:
		return atm(o.Timestamp, o.Temp, o.RHum), nil
	}
	return "", unsupported(o, mode)
}

// PMS5003ST adds temperature and humidity to PMS5003S.
type PMS5003ST struct {
	PMS5003S
	Temp float64 `json:"temp" obs:"temperature,°C,temperature"`
	RHum float64 `json:"rhum" obs:"relative humidity,%,humidity"`
}

func buildPMS5003ST(t int64, v []float64) (Observation, error) {
	if err := expect(v, 15, "PMS5003ST"); err != nil {
		return nil, err
	}
	o, err := newPMSx003(t, v[:12])
	if err != nil {
		return nil, err
	}
	return PMS5003ST{
		PMS5003S: PMS5003S{PMSx003: o, HCHO: v[12] / 1000},
		Temp:     signed16(v[13]) / 10,
		RHum:     v[14] / 10,
	}, nil
}

func (o PMS5003ST) Sensor() string  { return "PMS5003ST" }
func (o PMS5003ST) Fields() []Field { return fieldsOf(o) }

func (o PMS5003ST) Render(mode RenderMode) (string, error) {
	if mode == RenderAtm {
		return atm(o.Timestamp, o.Temp, o.RHum), nil
	}
	return renderPMSx003(o, o.PMSx003, mode)
}

func atm(t int64, temp, rhum float64) string {
	return fmt.Sprintf("%s: Temp. %.1f °C, Rel.Hum. %.1f %%", date(t), temp, rhum)
}

// signed16 reinterprets an unpacked big-endian word as two's complement.
func signed16(v float64) float64 {
	return float64(int16(uint16(v)))
}
