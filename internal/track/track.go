package track

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/san-kum/vehsim/internal/scene"
)

const (
	tagStart    = "car_start"
	tagMidpoint = "midpoint"
)

// Track is the scene geometry read from a track file.
type Track struct {
	Cones     []scene.Cone
	Start     *scene.Pose
	Midpoints []scene.Pose
}

func Load(path string) (*Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open track: %w", err)
	}
	defer f.Close()

	t, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Parse reads rows of tag,x,y[,yaw]. A leading header row is skipped, as are
// blank lines. Unknown cone tags are read as blue cones.
func Parse(r io.Reader) (*Track, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	t := &Track{}
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		if len(rec) < 3 {
			return nil, fmt.Errorf("line %d: expected tag,x,y[,yaw], got %d fields", line, len(rec))
		}

		tag := strings.ToLower(strings.TrimSpace(rec[0]))
		x, errX := parseFloat(rec[1])
		y, errY := parseFloat(rec[2])
		if errX != nil || errY != nil {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("line %d: invalid coordinates %q,%q", line, rec[1], rec[2])
		}
		yaw := 0.0
		if len(rec) > 3 && strings.TrimSpace(rec[3]) != "" {
			if yaw, err = parseFloat(rec[3]); err != nil {
				return nil, fmt.Errorf("line %d: invalid yaw %q", line, rec[3])
			}
		}

		switch tag {
		case tagStart:
			t.Start = &scene.Pose{X: x, Y: y, Yaw: yaw}
		case tagMidpoint:
			t.Midpoints = append(t.Midpoints, scene.Pose{X: x, Y: y, Yaw: yaw})
		default:
			t.Cones = append(t.Cones, scene.Cone{X: x, Y: y, Kind: coneKind(tag)})
		}
	}
	return t, nil
}

// LoadCones returns only the cone geometry of the track at path.
func LoadCones(path string) ([]scene.Cone, error) {
	t, err := Load(path)
	if err != nil {
		return nil, err
	}
	return t.Cones, nil
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func coneKind(tag string) scene.ConeKind {
	switch k := scene.ConeKind(tag); k {
	case scene.ConeBlue, scene.ConeYellow, scene.ConeOrange, scene.ConeBigOrange:
		return k
	default:
		return scene.ConeBlue
	}
}
