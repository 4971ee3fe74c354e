package monitor

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/vehsim/internal/comm"
	"github.com/san-kum/vehsim/internal/scene"
)

const (
	canvasW         = 48
	canvasH         = 18
	historyCapacity = 300
	trailCapacity   = 400
	staleAfter      = 2 * time.Second
)

// Admin is the part of comm.Client the monitor drives.
type Admin interface {
	Admin(ctx context.Context, cmd comm.AdminCommand) (*comm.AdminReply, error)
}

type (
	stateMsg  comm.StateUpdate
	schemaMsg comm.Schema
	replyMsg  struct {
		cmd   comm.CommandType
		reply *comm.AdminReply
		err   error
	}
	feedErrMsg struct{ err error }
	redrawMsg  time.Time
)

// Model is a bubbletea view of a running engine fed by its broadcasts.
type Model struct {
	ctx     context.Context
	admin   Admin
	updates <-chan tea.Msg

	schema   *comm.Schema
	last     comm.StateUpdate
	received bool
	lastSeen time.Time

	column  int
	history []float64
	trail   [][2]float64
	canvas  *Canvas

	status   string
	statusOK bool
	showHelp bool
}

// New builds a monitor reading messages from updates, typically fed by
// Feed, and sending commands through admin.
func New(ctx context.Context, admin Admin, updates <-chan tea.Msg) Model {
	return Model{
		ctx:     ctx,
		admin:   admin,
		updates: updates,
		history: make([]float64, 0, historyCapacity),
		trail:   make([][2]float64, 0, trailCapacity),
		canvas:  NewCanvas(canvasW, canvasH),
		status:  "waiting for schema",
	}
}

// Subscriber is the part of comm.Client that streams broadcasts.
type Subscriber interface {
	SubscribeState(ctx context.Context, fn func(comm.StateUpdate)) error
	SubscribeSchema(ctx context.Context, fn func(comm.Schema)) error
}

// Feed subscribes to both broadcasts and forwards them as messages. State
// frames arriving faster than the view consumes them are dropped.
func Feed(ctx context.Context, sub Subscriber) <-chan tea.Msg {
	ch := make(chan tea.Msg, 8)
	send := func(msg tea.Msg) {
		select {
		case ch <- msg:
		case <-ctx.Done():
		}
	}
	go func() {
		if err := sub.SubscribeSchema(ctx, func(s comm.Schema) { send(schemaMsg(s)) }); err != nil {
			send(feedErrMsg{fmt.Errorf("schema feed: %w", err)})
		}
	}()
	go func() {
		err := sub.SubscribeState(ctx, func(u comm.StateUpdate) {
			select {
			case ch <- stateMsg(u):
			default:
			}
		})
		if err != nil {
			send(feedErrMsg{fmt.Errorf("state feed: %w", err)})
		}
	}()
	return ch
}

func (m Model) wait() tea.Cmd {
	ch := m.updates
	return func() tea.Msg { return <-ch }
}

func redraw() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return redrawMsg(t) })
}

func (m Model) Init() tea.Cmd { return tea.Batch(m.wait(), redraw()) }

func (m Model) send(cmd comm.AdminCommand) tea.Cmd {
	admin, ctx := m.admin, m.ctx
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		r, err := admin.Admin(ctx, cmd)
		return replyMsg{cmd: cmd.Type, reply: r, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ", "enter":
			return m, m.send(comm.AdminCommand{Type: comm.CmdRun})
		case "p":
			return m, m.send(comm.AdminCommand{Type: comm.CmdPause})
		case "r":
			return m, m.send(comm.AdminCommand{Type: comm.CmdReset})
		case "s":
			return m, m.send(comm.AdminCommand{Type: comm.CmdStep, StepCount: 1})
		case "S":
			return m, m.send(comm.AdminCommand{Type: comm.CmdStep, StepCount: 100})
		case "tab", "down", "j":
			m.selectColumn(1)
		case "shift+tab", "up", "k":
			m.selectColumn(-1)
		case "c":
			m.trail = m.trail[:0]
		case "?":
			m.showHelp = !m.showHelp
		}
		return m, nil

	case schemaMsg:
		s := comm.Schema(msg)
		if m.schema == nil || m.schema.ModelName != s.ModelName || len(m.schema.States) != len(s.States) {
			m.column = defaultColumn(&s)
			m.history = m.history[:0]
			m.trail = m.trail[:0]
		}
		m.schema = &s
		m.setStatus(fmt.Sprintf("schema v%d: %s", s.Version, s.ModelName), true)
		return m, m.wait()

	case stateMsg:
		m.observe(comm.StateUpdate(msg))
		return m, m.wait()

	case replyMsg:
		switch {
		case msg.err != nil:
			m.setStatus(fmt.Sprintf("%s: %v", msg.cmd, msg.err), false)
		case !msg.reply.Success:
			m.setStatus(fmt.Sprintf("%s: %s", msg.cmd, msg.reply.Message), false)
		default:
			text := msg.reply.Message
			if text == "" {
				text = "ok"
			}
			m.setStatus(fmt.Sprintf("%s: %s", msg.cmd, text), true)
		}
		return m, nil

	case feedErrMsg:
		m.setStatus(msg.err.Error(), false)
		return m, m.wait()

	case redrawMsg:
		return m, redraw()
	}
	return m, nil
}

func (m *Model) setStatus(s string, ok bool) {
	m.status, m.statusOK = s, ok
}

func (m *Model) observe(u comm.StateUpdate) {
	if m.received && u.Tick < m.last.Tick {
		m.history = m.history[:0]
		m.trail = m.trail[:0]
	}
	fresh := !m.received || u.Tick != m.last.Tick
	m.last, m.received, m.lastSeen = u, true, time.Now()
	if !fresh {
		return
	}
	if m.column >= 0 && m.column < len(u.States) {
		m.history = push(m.history, u.States[m.column], historyCapacity)
	}
	m.trail = pushPoint(m.trail, [2]float64{u.Car.X, u.Car.Y}, trailCapacity)
}

func push(s []float64, v float64, capacity int) []float64 {
	if len(s) == capacity {
		copy(s, s[1:])
		s = s[:capacity-1]
	}
	return append(s, v)
}

func pushPoint(s [][2]float64, p [2]float64, capacity int) [][2]float64 {
	if len(s) == capacity {
		copy(s, s[1:])
		s = s[:capacity-1]
	}
	return append(s, p)
}

func (m *Model) selectColumn(delta int) {
	if m.schema == nil || len(m.schema.States) == 0 {
		return
	}
	n := len(m.schema.States)
	m.column = ((m.column+delta)%n + n) % n
	m.history = m.history[:0]
}

// defaultColumn graphs speed when the model names one, else the first state.
func defaultColumn(s *comm.Schema) int {
	for _, name := range []string{"v", "vx", "speed"} {
		for _, c := range s.States {
			if c.Name == name {
				return c.Index
			}
		}
	}
	return 0
}

func (m *Model) draw() {
	c := m.canvas
	c.Clear()
	pts := make([][2]float64, 0, len(m.trail)+len(m.last.Cones)+1)
	pts = append(pts, m.trail...)
	for _, cone := range m.last.Cones {
		pts = append(pts, [2]float64{cone.X, cone.Y})
	}
	car := m.last.Car
	pts = append(pts, [2]float64{car.X, car.Y})
	vp := fit(c, pts, math.Max(car.Wheelbase, 1))

	for _, cone := range m.last.Cones {
		x, y := vp.dot(cone.X, cone.Y)
		c.Set(x, y)
		if cone.Kind == scene.ConeBigOrange {
			c.Set(x+1, y)
			c.Set(x, y+1)
			c.Set(x+1, y+1)
		}
	}
	for _, p := range m.trail {
		c.Set(vp.dot(p[0], p[1]))
	}

	// Car body as a wheelbase-long segment along the heading, plus the
	// front wheel direction.
	l := math.Max(car.Wheelbase, 0.5)
	rx, ry := car.X-math.Cos(car.Yaw)*l/2, car.Y-math.Sin(car.Yaw)*l/2
	fx, fy := car.X+math.Cos(car.Yaw)*l/2, car.Y+math.Sin(car.Yaw)*l/2
	x0, y0 := vp.dot(rx, ry)
	x1, y1 := vp.dot(fx, fy)
	c.Line(x0, y0, x1, y1)
	steer := car.Yaw + (car.SteerFL+car.SteerFR)/2
	x2, y2 := vp.dot(fx+math.Cos(steer)*l/4, fy+math.Sin(steer)*l/4)
	c.Line(x1, y1, x2, y2)
}

func (m Model) View() string {
	if m.schema == nil {
		return headerStyle.Render("VEHSIM") + "\n" + warnStyle.Render(m.status) + "\n"
	}
	m.draw()

	var stats strings.Builder
	stats.WriteString(sectionStyle.Render("STATES") + "\n")
	for i, ch := range m.schema.States {
		line := labelStyle.Render(ch.Name) + valueStyle.Render(value(m.last.States, i))
		if i == m.column {
			line = selectStyle.Render("> "+ch.Name) + strings.Repeat(" ", max(0, 18-len(ch.Name))) + valueStyle.Render(value(m.last.States, i))
		}
		stats.WriteString(line + "\n")
	}
	stats.WriteString("\n" + sectionStyle.Render("INPUTS") + "\n")
	for i, ch := range m.schema.Inputs {
		stats.WriteString(labelStyle.Render(ch.Name) + valueStyle.Render(value(m.last.Inputs, i)) + "\n")
	}
	if len(m.history) > 1 && m.column < len(m.schema.States) {
		chart := asciigraph.Plot(m.history,
			asciigraph.Height(5),
			asciigraph.Width(32),
			asciigraph.Caption(m.schema.States[m.column].Name),
		)
		stats.WriteString(graphStyle.Render(chart) + "\n")
	}

	var s strings.Builder
	title := fmt.Sprintf("%s  v%d", strings.ToUpper(m.schema.ModelName), m.schema.Version)
	s.WriteString(headerStyle.Render(title) + "\n")
	line := fmt.Sprintf("tick %d   t=%.2fs   cones %d", m.last.Tick, m.last.SimTime, len(m.last.Cones))
	if m.received && time.Since(m.lastSeen) > staleAfter {
		line += "   " + warnStyle.Render("no updates")
	}
	s.WriteString(line + "\n")
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		canvasStyle.Render(m.canvas.String()),
		statsStyle.Render(stats.String()),
	))
	s.WriteString("\n")
	if m.statusOK {
		s.WriteString(okStyle.Render(m.status))
	} else {
		s.WriteString(errStyle.Render(m.status))
	}
	s.WriteString("\n")
	if m.showHelp {
		s.WriteString(helpStyle.Render("SPACE run  P pause  S step  shift+S step 100  R reset\nTAB/↑↓ graph column  C clear trail  Q quit"))
	} else {
		s.WriteString(helpStyle.Render("? help  Q quit"))
	}
	return s.String()
}

func value(vals []float64, i int) string {
	if i < 0 || i >= len(vals) {
		return "-"
	}
	return fmt.Sprintf("%10.4f", vals[i])
}
