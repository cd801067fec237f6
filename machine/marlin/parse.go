package marlin

import (
	"errors"
	"strconv"
	"strings"

	"github.com/nsfm/noskop/coord"
)

// Temperature is a single sensor reading from an auto-report.
type Temperature struct {
	Current float64
	Target  float64
}

// parsePosition reads a position auto-report such as
//
//	X:10.00 Y:0.00 Z:0.00 E:0.00 Count X:800 Y:0 Z:0
//
// Step counts after "Count" are ignored.
func parsePosition(data string) (p coord.Set, err error) {
	var found bool
	for _, field := range strings.Fields(data) {
		if field == "Count" {
			break
		}
		parts := strings.SplitN(field, ":", 2)
		if len(parts) != 2 {
			continue
		}
		var v float64
		switch parts[0] {
		case "X", "Y", "Z", "E":
			v, err = strconv.ParseFloat(parts[1], 64)
			if err != nil {
				return p, err
			}
			found = true
		}
		switch parts[0] {
		case "X":
			p.X = v
		case "Y":
			p.Y = v
		case "Z":
			p.Z = v
		case "E":
			p.E = v
		}
	}
	if !found {
		return p, errors.New("no axes in position report: " + data)
	}
	return p, nil
}

// parseTemperature reads a temperature auto-report such as
//
//	T:25.00 /0.00 B:24.50 /60.00 @:0 B@:0
//
// A "/value" field is the target of the sensor before it.
func parseTemperature(data string) (map[string]Temperature, error) {
	res := make(map[string]Temperature)
	var last string
	for _, field := range strings.Fields(data) {
		if strings.HasPrefix(field, "/") {
			if last == "" {
				return nil, errors.New("target without sensor: " + data)
			}
			v, err := strconv.ParseFloat(field[1:], 64)
			if err != nil {
				return nil, err
			}
			t := res[last]
			t.Target = v
			res[last] = t
			continue
		}
		parts := strings.SplitN(field, ":", 2)
		if len(parts) != 2 || parts[0] == "" {
			continue
		}
		v, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, err
		}
		last = parts[0]
		res[last] = Temperature{Current: v}
	}
	if len(res) == 0 {
		return nil, errors.New("no sensors in temperature report: " + data)
	}
	return res, nil
}
