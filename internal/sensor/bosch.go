package sensor

import (
	"encoding/binary"
	"fmt"
)

// MCU680 boards wrap a Bosch BME680 behind a small controller. Answers carry
// a 15 byte mixed width payload and an 8-bit sum.

var mcu680Answer = []byte{0x5A, 0x5A, 0x3F, 0x0F}

var mcu680Commands = Commands{
	PassiveRead: Cmd{[]byte{0xA5, 0x56, 0x02, 0xFD}, mcu680Answer, 20},
	PassiveMode: Cmd{[]byte{0xA5, 0x56, 0x01, 0xFC}, mcu680Answer, 20},
	ActiveMode:  Cmd{[]byte{0xA5, 0x56, 0x02, 0xFD}, mcu680Answer, 20},
	Sleep:       Cmd{nil, mcu680Answer, 20},
	Wake:        Cmd{nil, mcu680Answer, 20},
}

var mcu680Codec = &codec{
	payloadStart: 4,
	payloadTrim:  1,
	checksum: func(msg []byte) (int, int) {
		n := len(msg) - 1
		return int(msg[n]), sum(msg[:n]) % 256
	},
	signature: func(header []byte, length int) {
		if len(header) != 4 || header[0] != 0x5A || header[1] != 0x5A {
			panic(fmt.Sprintf("bosch: wrong header %X", header))
		}
		if want := 4 + int(header[3]) + 1; length != want {
			panic(fmt.Sprintf("bosch: wrong payload length %d != %d", length, want))
		}
	},
	unpack:  unpackMCU680,
	records: [2]int{0, 7},
}

// unpackMCU680 splits the payload into temperature, humidity, pressure, IAQ
// accuracy, IAQ, gas resistance and altitude, all unscaled.
func unpackMCU680(p []byte) []float64 {
	if len(p) < 15 {
		return nil
	}
	be := binary.BigEndian
	return []float64{
		float64(int16(be.Uint16(p[0:]))),
		float64(be.Uint16(p[2:])),
		float64(uint32(p[4])<<16 | uint32(p[5])<<8 | uint32(p[6])),
		float64(p[7] >> 4),
		float64(uint16(p[7]&0x0F)<<8 | uint16(p[8])),
		float64(be.Uint32(p[9:])),
		float64(int16(be.Uint16(p[13:]))),
	}
}

var mcu680Sensor = &Sensor{
	Name:     "MCU680",
	Aliases:  []string{"BME680"},
	Commands: mcu680Commands,
	Baud:     DefaultBaud,
	Doc:      "MCU680 module with a Bosch BME680 temperature, humidity, pressure and air quality sensor",
	codec:    mcu680Codec,
	build:    buildMCU680,
}

type MCU680 struct {
	Timestamp int64   `json:"time"`
	Temp      float64 `json:"temp" obs:"temperature,°C,temperature,2"`
	RHum      float64 `json:"rhum" obs:"relative humidity,%,humidity,2"`
	Pres      float64 `json:"pres" obs:"atmospheric pressure,hPa,pressure,2"`
	IAQAcc    int     `json:"IAQ_acc" obs:"IAQ accuracy,,acc"`
	IAQ       int     `json:"IAQ" obs:"IAQ,0-500,aqi"`
	Gas       float64 `json:"gas" obs:"gas resistance,kΩ,resistance,3"`
	Alt       int     `json:"alt" obs:"altitude estimate,m,elevation"`
}

func buildMCU680(t int64, v []float64) (Observation, error) {
	if err := expect(v, 7, "MCU680"); err != nil {
		return nil, err
	}
	return MCU680{
		Timestamp: t,
		Temp:      v[0] / 100,
		RHum:      v[1] / 100,
		Pres:      v[2] / 100,
		IAQAcc:    int(v[3]),
		IAQ:       int(v[4]),
		Gas:       v[5] / 1000,
		Alt:       int(v[6]),
	}, nil
}

func (o MCU680) Sensor() string  { return "MCU680" }
func (o MCU680) Time() int64     { return o.Timestamp }
func (o MCU680) Fields() []Field { return fieldsOf(o) }

func (o MCU680) Render(mode RenderMode) (string, error) {
	if s, ok := renderCommon(o, mode); ok {
		return s, nil
	}
	if mode == RenderDefault || mode == RenderAtm {
		return fmt.Sprintf("%s: Temp. %.1f °C, Rel.Hum. %.1f %%, Press. %.2f hPa, %d IAQ",
			date(o.Timestamp), o.Temp, o.RHum, o.Pres, o.IAQ), nil
	}
	return "", unsupported(o, mode)
}
