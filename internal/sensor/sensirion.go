package sensor

import (
	"fmt"
)

// SPS30 speaks SHDLC: frames are delimited by 0x7E, byte stuffed, and carry
// an inverted 8-bit sum over address, command, state, length and data.

var sps30Commands = Commands{
	PassiveRead: Cmd{[]byte{0x7E, 0x00, 0x03, 0x00, 0xFC, 0x7E}, []byte{0x7E, 0x00, 0x03, 0x00, 0x28}, 47},
	PassiveMode: Cmd{[]byte{0x7E, 0x00, 0x00, 0x02, 0x01, 0x03, 0xF9, 0x7E}, []byte{0x7E, 0x00, 0x00, 0x00, 0x00}, 7},
	ActiveMode:  Cmd{[]byte{0x7E, 0x00, 0x00, 0x02, 0x01, 0x03, 0xF9, 0x7E}, []byte{0x7E, 0x00, 0x00, 0x00, 0x00}, 7},
	Sleep:       Cmd{[]byte{0x7E, 0x00, 0x10, 0x00, 0xEF, 0x7E}, []byte{0x7E, 0x00, 0x10, 0x00, 0x00}, 7},
	// the leading 0xFF wakes the UART before the frame itself
	Wake: Cmd{[]byte{0xFF, 0x7E, 0x00, 0x11, 0x00, 0xEE, 0x7E}, []byte{0x7E, 0x00, 0x11, 0x00, 0x00}, 7},
}

var sps30Codec = &codec{
	payloadStart: 5,
	payloadTrim:  2,
	checksum: func(msg []byte) (int, int) {
		n := len(msg) - 2
		return int(msg[n]), 0xFF - sum(msg[1:n])%256
	},
	tail:    0x7E,
	hasTail: true,
	destuff: true,
	noData: [][]byte{
		{0x7E, 0x00, 0x03, 0x00, 0x00, 0xFC, 0x7E},
		{0x7E, 0x00, 0x03, 0x43, 0x00, 0xB9, 0x7E},
	},
	signature: func(header []byte, length int) {
		if len(header) != 5 {
			panic(fmt.Sprintf("sensirion: wrong header length %d", len(header)))
		}
		if want := 5 + int(header[4]) + 2; length != want {
			panic(fmt.Sprintf("sensirion: wrong payload length %d != %d", length, want))
		}
	},
	unpack:  beFloat32s,
	records: [2]int{0, 10},
}

var sps30Sensor = &Sensor{
	Name:     "SPS30",
	Commands: sps30Commands,
	Baud:     115200,
	Doc:      "Sensirion SPS30 PM1/PM2.5/PM4/PM10 sensor",
	codec:    sps30Codec,
	build:    buildSPS30,
}

type SPS30 struct {
	Timestamp int64   `json:"time"`
	PM01      float64 `json:"pm01" obs:"PM1,ug/m3,concentration"`
	PM25      float64 `json:"pm25" obs:"PM2.5,ug/m3,concentration"`
	PM04      float64 `json:"pm04" obs:"PM4,ug/m3,concentration"`
	PM10      float64 `json:"pm10" obs:"PM10,ug/m3,concentration"`
	N0_5      float64 `json:"n0_5" obs:"N0.5,#/cm3,counts,2"`
	N1_0      float64 `json:"n1_0" obs:"N1.0,#/cm3,counts,2"`
	N2_5      float64 `json:"n2_5" obs:"N2.5,#/cm3,counts,2"`
	N4_0      float64 `json:"n4_0" obs:"N4.0,#/cm3,counts,2"`
	N10_0     float64 `json:"n10_0" obs:"N10,#/cm3,counts,2"`
	Diam      float64 `json:"diam" obs:"typical particle size,um,size"`
}

func buildSPS30(t int64, v []float64) (Observation, error) {
	if err := expect(v, 10, "SPS30"); err != nil {
		return nil, err
	}
	return SPS30{
		Timestamp: t,
		PM01:      v[0], PM25: v[1], PM04: v[2], PM10: v[3],
		N0_5: v[4], N1_0: v[5], N2_5: v[6], N4_0: v[7], N10_0: v[8],
		Diam: v[9],
	}, nil
}

func (o SPS30) Sensor() string  { return "SPS30" }
func (o SPS30) Time() int64     { return o.Timestamp }
func (o SPS30) Fields() []Field { return fieldsOf(o) }

func (o SPS30) Render(mode RenderMode) (string, error) {
	if s, ok := renderCommon(o, mode); ok {
		return s, nil
	}
	switch mode {
	case RenderDefault, RenderPM:
		return fmt.Sprintf("%s: PM1 %.1f, PM2.5 %.1f, PM4 %.1f, PM10 %.1f ug/m3", date(o.Timestamp),
			o.PM01, o.PM25, o.PM04, o.PM10), nil
	case RenderNum:
		return fmt.Sprintf("%s: N0.5 %.2f, N1.0 %.2f, N2.5 %.2f, N4.0 %.2f, N10 %.2f #/cm3", date(o.Timestamp),
			o.N0_5, o.N1_0, o.N2_5, o.N4_0, o.N10_0), nil
	}
	return "", unsupported(o, mode)
}
