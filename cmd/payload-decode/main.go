// payload-decode decodes a station payload and optionally applies a
// calibration range to every field.
//
//	payload-decode 15799968000445225100030027038822980099008105110000
//	payload-decode -base64 MTU3OTk5NjgwMDA0NDU= -min 0 -max 4095
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/chrissnell/riverapi/internal/calibration"
	"github.com/chrissnell/riverapi/internal/log"
	"github.com/chrissnell/riverapi/internal/payload"
	"github.com/chrissnell/riverapi/internal/types"
)

type field struct {
	Position  int      `json:"position"`
	Raw       int      `json:"raw"`
	Corrected *float64 `json:"corrected,omitempty"`
	Status    string   `json:"status,omitempty"`
}

type output struct {
	RecordedAt time.Time `json:"recorded_at"`
	Fields     []field   `json:"fields"`
}

func main() {
	b64 := flag.String("base64", "", "Base64-encoded message data instead of a raw payload argument")
	outputRange := flag.Int("output-range", calibration.DefaultOutputRange, "Device output range")
	minRange := flag.Float64("min", 0, "Calibrated minimum")
	maxRange := flag.Float64("max", 0, "Calibrated maximum; calibration is skipped when min == max == 0")
	debug := flag.Bool("debug", false, "Turn on debugging output")
	flag.Parse()

	if err := log.Init(*debug); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	raw := flag.Arg(0)
	if *b64 != "" {
		var err error
		raw, err = payload.DecodeData(*b64)
		if err != nil {
			log.Fatalf("could not decode message data: %v", err)
		}
	}
	if raw == "" {
		fmt.Fprintln(os.Stderr, "usage: payload-decode [flags] <payload>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	frame, err := payload.Parse(raw)
	if err != nil {
		log.Fatalf("could not parse payload: %v", err)
	}

	var curve *calibration.Curve
	if *minRange != 0 || *maxRange != 0 {
		c, err := calibration.NewCurve(types.CalibrationEntry{MinRange: *minRange, MaxRange: *maxRange}, *outputRange)
		if err != nil {
			log.Fatalf("invalid calibration: %v", err)
		}
		curve = &c
	}

	out := output{RecordedAt: frame.RecordedAt}
	for i, v := range frame.Values {
		f := field{Position: i + 1, Raw: v}
		if curve != nil {
			corrected, err := curve.Correct(v)
			if err != nil {
				f.Status = types.StatusOutOfRange
			} else {
				f.Corrected = &corrected
				f.Status = types.StatusOK
			}
		}
		out.Fields = append(out.Fields, f)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatalf("could not write output: %v", err)
	}
}
