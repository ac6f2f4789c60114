package sensor

import (
	"fmt"
	"time"
)

// Honeywell HPMA answers start with 0x40, a length byte and the command
// echo. Mode changes are acknowledged with A5 A5.

var hpmaAck = []byte{0xA5, 0xA5}

func hpmaCommands(header []byte, length int) Commands {
	return Commands{
		PassiveRead: Cmd{[]byte{0x68, 0x01, 0x04, 0x93}, header, length},
		PassiveMode: Cmd{[]byte{0x68, 0x01, 0x20, 0x77}, hpmaAck, 2},
		ActiveMode:  Cmd{[]byte{0x68, 0x01, 0x40, 0x57}, hpmaAck, 2},
		Sleep:       Cmd{[]byte{0x68, 0x01, 0x02, 0x95}, hpmaAck, 2},
		Wake:        Cmd{[]byte{0x68, 0x01, 0x01, 0x96}, hpmaAck, 2},
	}
}

// hpmaPreHeat is the fan spin up time after power on.
const hpmaPreHeat = 6 * time.Second

func hpmaCodec(records int) *codec {
	return &codec{
		payloadStart: 3,
		payloadTrim:  1,
		checksum: func(msg []byte) (int, int) {
			n := len(msg) - 1
			return int(msg[n]), (0x10000 - sum(msg[:n])) % 256
		},
		acks: [][]byte{hpmaAck},
		signature: func(header []byte, length int) {
			if len(header) == 2 && header[0] == 0xA5 && header[1] == 0xA5 && length == 2 {
				return
			}
			if len(header) != 3 {
				panic(fmt.Sprintf("honeywell: wrong header length %d", len(header)))
			}
			if header[0] != 0x40 {
				panic(fmt.Sprintf("honeywell: wrong header start %X", header))
			}
			if want := 2 + int(header[1]) + 1; length != want {
				panic(fmt.Sprintf("honeywell: wrong payload length %d != %d", length, want))
			}
		},
		unpack:  beUint16s,
		records: [2]int{0, records},
	}
}

var hpma115s0Sensor = &Sensor{
	Name:     "HPMA115S0",
	Aliases:  []string{"HPM"},
	Commands: hpmaCommands([]byte{0x40, 0x05, 0x04}, 8),
	Baud:     DefaultBaud,
	PreHeat:  hpmaPreHeat,
	Doc:      "Honeywell HPMA115S0 PM2.5/PM10 sensor",
	codec:    hpmaCodec(2),
	build:    buildHPMA115S0,
}

var hpma115c0Sensor = &Sensor{
	Name:     "HPMA115C0",
	Commands: hpmaCommands([]byte{0x40, 0x0D, 0x04}, 16),
	Baud:     DefaultBaud,
	PreHeat:  hpmaPreHeat,
	Doc:      "Honeywell HPMA115C0 PM1/PM2.5/PM4/PM10 sensor",
	codec:    hpmaCodec(4),
	build:    buildHPMA115C0,
}

type HPMA115S0 struct {
	Timestamp int64 `json:"time"`
	PM25      int   `json:"pm25" obs:"PM2.5,ug/m3,concentration"`
	PM10      int   `json:"pm10" obs:"PM10,ug/m3,concentration"`
}

func buildHPMA115S0(t int64, v []float64) (Observation, error) {
	if err := expect(v, 2, "HPMA115S0"); err != nil {
		return nil, err
	}
	return HPMA115S0{Timestamp: t, PM25: int(v[0]), PM10: int(v[1])}, nil
}

func (o HPMA115S0) Sensor() string  { return "HPMA115S0" }
func (o HPMA115S0) Time() int64     { return o.Timestamp }
func (o HPMA115S0) Fields() []Field { return fieldsOf(o) }

func (o HPMA115S0) Render(mode RenderMode) (string, error) {
	if s, ok := renderCommon(o, mode); ok {
		return s, nil
	}
	if mode == RenderDefault || mode == RenderPM {
		return fmt.Sprintf("%s: PM2.5 %.1f, PM10 %.1f ug/m3", date(o.Timestamp),
			float64(o.PM25), float64(o.PM10)), nil
	}
	return "", unsupported(o, mode)
}

type HPMA115C0 struct {
	Timestamp int64 `json:"time"`
	PM01      int   `json:"pm01" obs:"PM1,ug/m3,concentration"`
	PM25      int   `json:"pm25" obs:"PM2.5,ug/m3,concentration"`
	PM04      int   `json:"pm04" obs:"PM4,ug/m3,concentration"`
	PM10      int   `json:"pm10" obs:"PM10,ug/m3,concentration"`
}

func buildHPMA115C0(t int64, v []float64) (Observation, error) {
	if err := expect(v, 4, "HPMA115C0"); err != nil {
		return nil, err
	}
	return HPMA115C0{Timestamp: t, PM01: int(v[0]), PM25: int(v[1]), PM04: int(v[2]), PM10: int(v[3])}, nil
}

func (o HPMA115C0) Sensor() string  { return "HPMA115C0" }
func (o HPMA115C0) Time() int64     { return o.Timestamp }
func (o HPMA115C0) Fields() []Field { return fieldsOf(o) }

func (o HPMA115C0) Render(mode RenderMode) (string, error) {
	if s, ok := renderCommon(o, mode); ok {
		return s, nil
	}
	if mode == RenderDefault || mode == RenderPM {
		return fmt.Sprintf("%s: PM1 %.1f, PM2.5 %.1f, PM4 %.1f, PM10 %.1f ug/m3", date(o.Timestamp),
			float64(o.PM01), float64(o.PM25), float64(o.PM04), float64(o.PM10)), nil
	}
	return "", unsupported(o, mode)
}
