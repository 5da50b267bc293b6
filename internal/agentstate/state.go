package agentstate

import (
	"bytes"
	"encoding/json"

	"chatbi/internal/types"
)

const (
	keyWidgets       = "widgets"
	keyActiveTool    = "active_tool"
	keyActiveDataset = "active_dataset"
	keyToolStatus    = "tool_status"
	keyIndicatorList = "indicator_list"
	keyTimeList      = "time_list"
	keyPriviledge    = "priviledge"
)

// State is the client mirror of the agent's shared state. Keys the client
// does not model, and known keys holding null or an unexpected shape, are
// kept in Extra and written back unchanged. A known key the remote sent is
// written back even when its value is empty, so remote patches that replace
// it still apply.
type State struct {
	Widgets       []types.DashboardWidget
	ActiveTool    *types.ActiveTool
	ActiveDataset string
	ToolStatus    string
	IndicatorList []string
	TimeList      []string
	Priviledge    string
	Extra         map[string]json.RawMessage

	present map[string]bool
}

func Empty() State {
	return State{Widgets: []types.DashboardWidget{}}
}

func (s State) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Extra)+7)
	for key, value := range s.Extra {
		out[key] = value
	}
	widgets := s.Widgets
	if widgets == nil {
		widgets = []types.DashboardWidget{}
	}
	out[keyWidgets] = widgets
	if s.ActiveTool != nil || s.present[keyActiveTool] {
		out[keyActiveTool] = s.ActiveTool
	}
	if s.ActiveDataset != "" || s.present[keyActiveDataset] {
		out[keyActiveDataset] = s.ActiveDataset
	}
	if s.ToolStatus != "" || s.present[keyToolStatus] {
		out[keyToolStatus] = s.ToolStatus
	}
	if s.IndicatorList != nil || s.present[keyIndicatorList] {
		out[keyIndicatorList] = s.IndicatorList
	}
	if s.TimeList != nil || s.present[keyTimeList] {
		out[keyTimeList] = s.TimeList
	}
	if s.Priviledge != "" || s.present[keyPriviledge] {
		out[keyPriviledge] = s.Priviledge
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes known keys leniently: a known key whose value has an
// unexpected shape is kept verbatim in Extra instead of failing the decode.
func (s *State) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	next := Empty()
	for key, value := range raw {
		if bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			if key != keyWidgets {
				next.setExtra(key, value)
			}
			continue
		}
		var err error
		switch key {
		case keyWidgets:
			var widgets []types.DashboardWidget
			if err = json.Unmarshal(value, &widgets); err == nil {
				next.Widgets = widgets
			}
		case keyActiveTool:
			var tool types.ActiveTool
			if err = json.Unmarshal(value, &tool); err == nil {
				next.ActiveTool = &tool
			}
		case keyActiveDataset:
			err = json.Unmarshal(value, &next.ActiveDataset)
		case keyToolStatus:
			err = json.Unmarshal(value, &next.ToolStatus)
		case keyIndicatorList:
			err = json.Unmarshal(value, &next.IndicatorList)
		case keyTimeList:
			err = json.Unmarshal(value, &next.TimeList)
		case keyPriviledge:
			err = json.Unmarshal(value, &next.Priviledge)
		default:
			next.setExtra(key, value)
			continue
		}
		if err != nil {
			next.setExtra(key, value)
			continue
		}
		next.markPresent(key)
	}
	if next.Widgets == nil {
		next.Widgets = []types.DashboardWidget{}
	}
	*s = next
	return nil
}

func (s *State) markPresent(key string) {
	if s.present == nil {
		s.present = map[string]bool{}
	}
	s.present[key] = true
}

func (s *State) setExtra(key string, value json.RawMessage) {
	if s.Extra == nil {
		s.Extra = map[string]json.RawMessage{}
	}
	s.Extra[key] = append(json.RawMessage(nil), value...)
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := s
	if s.Widgets != nil {
		out.Widgets = make([]types.DashboardWidget, len(s.Widgets))
		for i, w := range s.Widgets {
			out.Widgets[i] = cloneWidget(w)
		}
	}
	if s.ActiveTool != nil {
		tool := *s.ActiveTool
		tool.Args = cloneRaw(tool.Args)
		tool.Result = cloneRaw(tool.Result)
		out.ActiveTool = &tool
	}
	if s.IndicatorList != nil {
		out.IndicatorList = append([]string{}, s.IndicatorList...)
	}
	if s.TimeList != nil {
		out.TimeList = append([]string{}, s.TimeList...)
	}
	if s.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(s.Extra))
		for key, value := range s.Extra {
			out.Extra[key] = cloneRaw(value)
		}
	}
	if s.present != nil {
		out.present = make(map[string]bool, len(s.present))
		for key := range s.present {
			out.present[key] = true
		}
	}
	return out
}

func cloneWidget(w types.DashboardWidget) types.DashboardWidget {
	w.Data = cloneRaw(w.Data)
	w.Config = cloneRaw(w.Config)
	return w
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}
