package comm

import (
	"encoding/json"
	"fmt"

	"github.com/san-kum/vehsim/internal/model"
	"github.com/san-kum/vehsim/internal/scene"
)

const (
	PathState   = "/v1/state"
	PathSchema  = "/v1/schema"
	PathSync    = "/v1/control/sync"
	PathAsync   = "/v1/control/async"
	PathAdmin   = "/v1/admin"
	PathMetrics = "/metrics"
)

const (
	TypeState          = "state"
	TypeSchema         = "schema"
	TypeControlRequest = "control_request"
	TypeControlReply   = "control_reply"
	TypeControlAsync   = "control_async"
	TypeAdminCommand   = "admin_command"
	TypeAdminReply     = "admin_reply"
)

// Envelope frames every websocket message.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func Encode(typ string, v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: typ, Payload: payload})
}

// Decode unpacks data into v, requiring the envelope type to be typ.
func Decode(data []byte, typ string, v any) error {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type != typ {
		return fmt.Errorf("unexpected message type %q, want %q", env.Type, typ)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("decode %s: %w", typ, err)
	}
	return nil
}

type StateUpdate struct {
	Tick          uint64            `json:"tick"`
	SimTime       float64           `json:"sim_time"`
	SchemaVersion uint64            `json:"schema_version"`
	States        []float64         `json:"states"`
	Inputs        []float64         `json:"inputs"`
	Car           scene.CarGeometry `json:"car"`
	Cones         []scene.Cone      `json:"cones,omitempty"`
}

type ChannelInfo struct {
	Index int     `json:"index"`
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

type SettingInfo struct {
	Index   int      `json:"index"`
	Name    string   `json:"name"`
	Value   int32    `json:"value"`
	Options []string `json:"options"`
}

// Schema is the versioned description of the active model.
type Schema struct {
	Version   uint64        `json:"version"`
	ModelName string        `json:"model_name"`
	ModelRef  string        `json:"model_ref,omitempty"`
	Params    []ChannelInfo `json:"params"`
	Inputs    []ChannelInfo `json:"inputs"`
	States    []ChannelInfo `json:"states"`
	Settings  []SettingInfo `json:"settings"`
}

func channelNames(ch []ChannelInfo) []string {
	names := make([]string, len(ch))
	for i, c := range ch {
		names[i] = c.Name
	}
	return names
}

func (s *Schema) StateNames() []string { return channelNames(s.States) }

func (s *Schema) InputNames() []string { return channelNames(s.Inputs) }

// InputIndex returns the index of the named input, or -1.
func (s *Schema) InputIndex(name string) int {
	for _, c := range s.Inputs {
		if c.Name == name {
			return c.Index
		}
	}
	return -1
}

// ControlRequest asks the synchronous client for inputs. Tick 0 is a
// heartbeat probe.
// ControlRequest asks the sync client for inputs. Epoch counts resets and
// model loads; ticks restart with every epoch, so replies echo both.
type ControlRequest struct {
	Tick          uint64    `json:"tick"`
	SimTime       float64   `json:"sim_time"`
	SchemaVersion uint64    `json:"schema_version"`
	Epoch         uint64    `json:"epoch"`
	States        []float64 `json:"states,omitempty"`
}

func (r ControlRequest) Heartbeat() bool { return r.Tick == 0 }

type ControlReply struct {
	Tick          uint64    `json:"tick"`
	SchemaVersion uint64    `json:"schema_version"`
	Epoch         uint64    `json:"epoch"`
	Inputs        []float64 `json:"inputs"`
}

type ControlAsync struct {
	Tick          uint64    `json:"tick"`
	SimTime       float64   `json:"sim_time"`
	SchemaVersion uint64    `json:"schema_version"`
	Inputs        []float64 `json:"inputs"`
}

type CommandType string

const (
	CmdRun            CommandType = "run"
	CmdPause          CommandType = "pause"
	CmdReset          CommandType = "reset"
	CmdStep           CommandType = "step"
	CmdSetParameters  CommandType = "set-parameters"
	CmdSetSettings    CommandType = "set-settings"
	CmdSetTrack       CommandType = "set-track"
	CmdLoadOverlay    CommandType = "load-overlay"
	CmdClearOverlay   CommandType = "clear-overlay"
	CmdSetControlMode CommandType = "set-control-mode"
	CmdGetSchema      CommandType = "get-schema"
	CmdSetSimConfig   CommandType = "set-sim-config"
	CmdGetSimConfig   CommandType = "get-sim-config"
	CmdLoadModel      CommandType = "load-model"
	CmdListModels     CommandType = "list-models"
	CmdSetStartPose   CommandType = "set-start-pose"
)

// CommandTypes lists every administrative command in a stable order.
var CommandTypes = []CommandType{
	CmdRun, CmdPause, CmdReset, CmdStep,
	CmdSetParameters, CmdSetSettings, CmdSetTrack,
	CmdLoadOverlay, CmdClearOverlay, CmdSetControlMode, CmdGetSchema,
	CmdSetSimConfig, CmdGetSimConfig, CmdLoadModel, CmdListModels, CmdSetStartPose,
}

// Update addresses a channel by index, or by name when Name is set. For
// settings, Label selects an option by name instead of Value.
type Update struct {
	Index int     `json:"index"`
	Name  string  `json:"name,omitempty"`
	Value float64 `json:"value"`
	Label string  `json:"label,omitempty"`
}

type AdminCommand struct {
	Type               CommandType `json:"type"`
	StepCount          int         `json:"step_count,omitempty"`
	ParamUpdates       []Update    `json:"param_updates,omitempty"`
	SettingUpdates     []Update    `json:"setting_updates,omitempty"`
	TrackPath          string      `json:"track_path,omitempty"`
	OverlayPath        string      `json:"overlay_path,omitempty"`
	ModelPath          string      `json:"model_path,omitempty"`
	SyncMode           bool        `json:"sync_mode,omitempty"`
	ExternalControl    bool        `json:"external_control,omitempty"`
	ControlPeriodTicks int         `json:"control_period_ticks,omitempty"`
	ControlDelayTicks  int         `json:"control_delay_ticks,omitempty"`
	Timestep           float64     `json:"timestep,omitempty"`
	RunSpeed           float64     `json:"run_speed,omitempty"`
	StartPose          *scene.Pose `json:"start_pose,omitempty"`
}

// Status summarizes the engine for administrative queries.
type Status struct {
	Tick          uint64  `json:"tick"`
	SimTime       float64 `json:"sim_time"`
	Paused        bool    `json:"paused"`
	ControlMode   string  `json:"control_mode"`
	PeriodTicks   int     `json:"period_ticks"`
	DelayTicks    int     `json:"delay_ticks"`
	SyncConnected bool    `json:"sync_connected"`
	PendingDt     float64 `json:"pending_dt,omitempty"`
}

type AdminReply struct {
	Success  bool         `json:"success"`
	Message  string       `json:"message,omitempty"`
	Schema   *Schema      `json:"schema,omitempty"`
	Timestep float64      `json:"timestep,omitempty"`
	RunSpeed float64      `json:"run_speed,omitempty"`
	Models   []model.Info `json:"models,omitempty"`
	Status   *Status      `json:"status,omitempty"`
}
