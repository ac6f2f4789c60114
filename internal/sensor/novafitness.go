package sensor

import (
	"fmt"
)

// Nova Fitness modules exchange fixed ten byte answers: 0xAA, a command
// byte, six little-endian data bytes, an 8-bit sum of the data and 0xAB.

var sds01xCommands = Commands{
	PassiveRead: Cmd{novaCommand(0x04), []byte{0xAA, 0xC0}, 10},
	PassiveMode: Cmd{novaCommand(0x02, 0x01, 0x01), []byte{0xAA, 0xC5, 0x02, 0x01, 0x01}, 10},
	ActiveMode:  Cmd{novaCommand(0x02, 0x01, 0x00), []byte{0xAA, 0xC5, 0x02, 0x01, 0x00}, 10},
	Sleep:       Cmd{novaCommand(0x06, 0x01, 0x00), []byte{0xAA, 0xC5, 0x06, 0x01, 0x00}, 10},
	Wake:        Cmd{novaCommand(0x06, 0x01, 0x01), []byte{0xAA, 0xC5, 0x06, 0x01, 0x01}, 10},
}

var sds198Commands = func() Commands {
	c := sds01xCommands
	c.PassiveRead.AnswerHeader = []byte{0xAA, 0xCF}
	return c
}()

// novaCommand frames a 19 byte request addressed to every device (FF FF).
func novaCommand(data ...byte) []byte {
	msg := make([]byte, 19)
	msg[0], msg[1] = 0xAA, 0xB4
	copy(msg[2:15], data)
	msg[15], msg[16] = 0xFF, 0xFF
	msg[17] = byte(sum(msg[2:17]))
	msg[18] = 0xAB
	return msg
}

func novaCodec(lo, hi int) *codec {
	return &codec{
		payloadStart: 2,
		payloadTrim:  2,
		checksum: func(msg []byte) (int, int) {
			return int(msg[8]), sum(msg[2:8]) % 256
		},
		tail:    0xAB,
		hasTail: true,
		signature: func(header []byte, length int) {
			if len(header) < 2 || len(header) > 5 {
				panic(fmt.Sprintf("novafitness: wrong header length %d", len(header)))
			}
			if header[0] != 0xAA {
				panic(fmt.Sprintf("novafitness: wrong header start %X", header))
			}
			if length != 10 {
				panic(fmt.Sprintf("novafitness: wrong payload length %d", length))
			}
		},
		unpack:  leUint16s,
		records: [2]int{lo, hi},
	}
}

var sds01xSensor = &Sensor{
	Name:     "SDS01x",
	Aliases:  []string{"SDS011", "SDS018", "SDS021"},
	Commands: sds01xCommands,
	Baud:     DefaultBaud,
	Doc:      "Nova Fitness SDS011, SDS018 and SDS021 PM2.5/PM10 sensors",
	codec:    novaCodec(0, 2),
	build:    buildSDS01x,
}

var sds198Sensor = &Sensor{
	Name:     "SDS198",
	Commands: sds198Commands,
	Baud:     DefaultBaud,
	Doc:      "Nova Fitness SDS198 PM100 sensor",
	codec:    novaCodec(1, 2),
	build:    buildSDS198,
}

// SDS01x holds mass concentrations in ug/m3.
type SDS01x struct {
	Timestamp int64   `json:"time"`
	PM25      float64 `json:"pm25" obs:"PM2.5,ug/m3,concentration"`
	PM10      float64 `json:"pm10" obs:"PM10,ug/m3,concentration"`
}

func buildSDS01x(t int64, v []float64) (Observation, error) {
	if err := expect(v, 2, "SDS01x"); err != nil {
		return nil, err
	}
	return SDS01x{Timestamp: t, PM25: v[0] / 10, PM10: v[1] / 10}, nil
}

func (o SDS01x) Sensor() string  { return "SDS01x" }
func (o SDS01x) Time() int64     { return o.Timestamp }
func (o SDS01x) Fields() []Field { return fieldsOf(o) }

func (o SDS01x) Render(mode RenderMode) (string, error) {
	if s, ok := renderCommon(o, mode); ok {
		return s, nil
	}
	if mode == RenderDefault || mode == RenderPM {
		return fmt.Sprintf("%s: PM2.5 %.1f, PM10 %.1f ug/m3", date(o.Timestamp), o.PM25, o.PM10), nil
	}
	return "", unsupported(o, mode)
}

// SDS198 measures particles up to 100 um.
type SDS198 struct {
	Timestamp int64 `json:"time"`
	PM100     int   `json:"pm100" obs:"PM100,ug/m3,concentration"`
}

func buildSDS198(t int64, v []float64) (Observation, error) {
	if err := expect(v, 1, "SDS198"); err != nil {
		return nil, err
	}
	return SDS198{Timestamp: t, PM100: int(v[0])}, nil
}

func (o SDS198) Sensor() string  { return "SDS198" }
func (o SDS198) Time() int64     { return o.Timestamp }
func (o SDS198) Fields() []Field { return fieldsOf(o) }

func (o SDS198) Render(mode RenderMode) (string, error) {
	if s, ok := renderCommon(o, mode); ok {
		return s, nil
	}
	if mode == RenderDefault || mode == RenderPM {
		return fmt.Sprintf("%s: PM100 %.1f ug/m3", date(o.Timestamp), float64(o.PM100)), nil
	}
	return "", unsupported(o, mode)
}
