package approval

import "chatbi/internal/toolcall"

// Params are the editable query parameters of one approval.
type Params struct {
	Indicators   []string
	Candidates   []string
	StartTime    string
	EndTime      string
	RowPrivilege string
}

// Response is the JSON body sent back to the agent on confirm.
type Response struct {
	Indicators   []string `json:"indicators"`
	TimeList     []string `json:"time_list"`
	StartTime    string   `json:"start_time"`
	EndTime      string   `json:"end_time"`
	RowPrivilege string   `json:"row_privilege"`
}

// Normalize reads approval arguments leniently. Explicit start and end times
// win over time_list entries.
func Normalize(args toolcall.Args) Params {
	params := Params{
		Indicators:   args.StringList("indicators"),
		Candidates:   args.StringList("candidate_indicators"),
		StartTime:    args.String("start_time"),
		EndTime:      args.String("end_time"),
		RowPrivilege: args.String("row_privilege"),
	}
	timeList := args.StringList("time_list")
	if params.StartTime == "" && len(timeList) > 0 {
		params.StartTime = timeList[0]
	}
	if params.EndTime == "" && len(timeList) > 1 {
		params.EndTime = timeList[1]
	}
	return params
}

func (p Params) clone() Params {
	p.Indicators = append([]string{}, p.Indicators...)
	p.Candidates = append([]string{}, p.Candidates...)
	return p
}

func (p Params) response() Response {
	timeList := []string{}
	for _, value := range []string{p.StartTime, p.EndTime} {
		if value != "" {
			timeList = append(timeList, value)
		}
	}
	return Response{
		Indicators:   append([]string{}, p.Indicators...),
		TimeList:     timeList,
		StartTime:    p.StartTime,
		EndTime:      p.EndTime,
		RowPrivilege: p.RowPrivilege,
	}
}
