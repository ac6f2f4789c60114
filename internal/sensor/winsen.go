package sensor

import (
	"fmt"
	"time"
)

// Winsen modules answer with 0xFF, the command byte, six big-endian data
// bytes and a negated 8-bit sum over bytes 1..7.

var winsenRead = Cmd{[]byte{0xFF, 0x01, 0x86, 0x00, 0x00, 0x00, 0x00, 0x00, 0x79}, []byte{0xFF, 0x86}, 9}

var mhz19bCommands = Commands{
	PassiveRead: winsenRead,
	PassiveMode: winsenRead,
	ActiveMode:  Cmd{},
	Sleep:       Cmd{},
	Wake:        Cmd{},
}

var zh0xxCommands = Commands{
	PassiveRead: winsenRead,
	PassiveMode: Cmd{[]byte{0xFF, 0x01, 0x78, 0x41, 0x00, 0x00, 0x00, 0x00, 0x46}, []byte{0xFF, 0x78}, 9},
	ActiveMode:  Cmd{[]byte{0xFF, 0x01, 0x78, 0x40, 0x00, 0x00, 0x00, 0x00, 0x47}, []byte{0xFF, 0x78}, 9},
	Sleep:       Cmd{[]byte{0xFF, 0x01, 0xA7, 0x01, 0x00, 0x00, 0x00, 0x00, 0x57}, []byte{0xFF, 0xA7}, 9},
	Wake:        Cmd{[]byte{0xFF, 0x01, 0xA7, 0x00, 0x00, 0x00, 0x00, 0x00, 0x58}, []byte{0xFF, 0xA7}, 9},
}

func winsenCodec(records int) *codec {
	return &codec{
		payloadStart: 2,
		payloadTrim:  1,
		checksum: func(msg []byte) (int, int) {
			return int(msg[8]), (256 - sum(msg[1:8])%256) % 256
		},
		// commands the module ignores get no answer at all
		acks: [][]byte{{}},
		signature: func(header []byte, length int) {
			if len(header) == 0 && length == 0 {
				return
			}
			if len(header) != 2 || header[0] != 0xFF {
				panic(fmt.Sprintf("winsen: wrong header %X", header))
			}
			if length != 9 {
				panic(fmt.Sprintf("winsen: wrong payload length %d", length))
			}
		},
		unpack:  beUint16s,
		records: [2]int{0, records},
	}
}

var mhz19bSensor = &Sensor{
	Name:     "MHZ19B",
	Commands: mhz19bCommands,
	Baud:     DefaultBaud,
	PreHeat:  180 * time.Second,
	Doc:      "Winsen MH-Z19B NDIR CO2 sensor",
	codec:    winsenCodec(1),
	build:    buildMHZ19B,
}

var zh0xxSensor = &Sensor{
	Name:     "ZH0xx",
	Aliases:  []string{"ZH03B", "ZH06"},
	Commands: zh0xxCommands,
	Baud:     DefaultBaud,
	Doc:      "Winsen ZH03B and ZH06 PM1/PM2.5/PM10 sensors",
	codec:    winsenCodec(3),
	build:    buildZH0xx,
}

type MHZ19B struct {
	Timestamp int64 `json:"time"`
	CO2       int   `json:"CO2" obs:"CO2,ppm,concentration"`
}

func buildMHZ19B(t int64, v []float64) (Observation, error) {
	if err := expect(v, 1, "MHZ19B"); err != nil {
		return nil, err
	}
	return MHZ19B{Timestamp: t, CO2: int(v[0])}, nil
}

func (o MHZ19B) Sensor() string  { return "MHZ19B" }
func (o MHZ19B) Time() int64     { return o.Timestamp }
func (o MHZ19B) Fields() []Field { return fieldsOf(o) }

func (o MHZ19B) Render(mode RenderMode) (string, error) {
	if s, ok := renderCommon(o, mode); ok {
		return s, nil
	}
	if mode == RenderDefault {
		return fmt.Sprintf("%s: CO2 %d ppm", date(o.Timestamp), o.CO2), nil
	}
	return "", unsupported(o, mode)
}

type ZH0xx struct {
	Timestamp int64 `json:"time"`
	PM01      int   `json:"pm01" obs:"PM1,ug/m3,concentration"`
	PM25      int   `json:"pm25" obs:"PM2.5,ug/m3,concentration"`
	PM10      int   `json:"pm10" obs:"PM10,ug/m3,concentration"`
}

// buildZH0xx reorders the wire layout (PM2.5, PM10, PM1).
func buildZH0xx(t int64, v []float64) (Observation, error) {
	if err := expect(v, 3, "ZH0xx"); err != nil {
		return nil, err
	}
	return ZH0xx{Timestamp: t, PM01: int(v[2]), PM25: int(v[0]), PM10: int(v[1])}, nil
}

func (o ZH0xx) Sensor() string  { return "ZH0xx" }
func (o ZH0xx) Time() int64     { return o.Timestamp }
func (o ZH0xx) Fields() []Field { return fieldsOf(o) }

func (o ZH0xx) Render(mode RenderMode) (string, error) {
	if s, ok := renderCommon(o, mode); ok {
		return s, nil
	}
	if mode == RenderDefault || mode == RenderPM {
		return fmt.Sprintf("%s: PM1 %.1f, PM2.5 %.1f, PM10 %.1f ug/m3", date(o.Timestamp),
			float64(o.PM01), float64(o.PM25), float64(o.PM10)), nil
	}
	return "", unsupported(o, mode)
}
