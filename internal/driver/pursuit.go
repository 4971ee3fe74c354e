package driver

import (
	"math"

	"github.com/san-kum/vehsim/internal/dynamo"
	"github.com/san-kum/vehsim/internal/scene"
)

// Pursuit steers towards the path point one lookahead distance ahead of
// the car.
type Pursuit struct {
	Path      []scene.Pose
	Lookahead float64
	closed    bool
	located   bool
	next      int
}

func NewPursuit(path []scene.Pose, lookahead float64) *Pursuit {
	p := &Pursuit{Path: path, Lookahead: lookahead}
	if n := len(path); n > 2 {
		p.closed = math.Hypot(path[0].X-path[n-1].X, path[0].Y-path[n-1].Y) < 2*lookahead
	}
	return p
}

func (p *Pursuit) Reset() { p.next, p.located = 0, false }

// Steer returns the front wheel angle for a car of the given wheelbase at
// pose. Without a path it steers straight.
func (p *Pursuit) Steer(pose scene.Pose, wheelbase float64) float64 {
	goal, ok := p.goal(pose)
	if !ok {
		return 0
	}
	dx, dy := goal.X-pose.X, goal.Y-pose.Y
	ld := math.Hypot(dx, dy)
	if ld < 1e-6 {
		return 0
	}
	alpha := dynamo.WrapAngle(math.Atan2(dy, dx) - pose.Yaw)
	return math.Atan2(2*wheelbase*math.Sin(alpha), ld)
}

func (p *Pursuit) goal(pose scene.Pose) (scene.Pose, bool) {
	n := len(p.Path)
	if n == 0 {
		return scene.Pose{}, false
	}

	// Search forward from the last nearest point so a closed path is
	// followed in one direction.
	best, bestD := p.next, math.Inf(1)
	window := n
	if p.closed && p.located {
		window = n / 2
	}
	p.located = true
	for k := 0; k < window; k++ {
		i := p.next + k
		if p.closed {
			i %= n
		} else if i >= n {
			break
		}
		if d := dist(p.Path[i], pose); d < bestD {
			best, bestD = i, d
		}
	}
	p.next = best

	for k := 0; k < n; k++ {
		i := best + k
		if p.closed {
			i %= n
		} else if i >= n {
			return p.Path[n-1], true
		}
		if dist(p.Path[i], pose) >= p.Lookahead {
			return p.Path[i], true
		}
	}
	return p.Path[best], true
}

func dist(a, b scene.Pose) float64 { return math.Hypot(a.X-b.X, a.Y-b.Y) }
