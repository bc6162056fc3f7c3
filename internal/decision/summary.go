package decision

import "strings"

// OutputSummary is the wire-friendly form of a decision, used by the HTTP
// surface and by log lines.
type OutputSummary struct {
	Path             string   `json:"path"`
	Reasons          []string `json:"reasons,omitempty"`
	FailedConditions []string `json:"failedConditions,omitempty"`
	TargetContainer  string   `json:"targetContainer,omitempty"`
	TargetVideoCodec string   `json:"targetVideoCodec,omitempty"`
	TargetAudioCodec string   `json:"targetAudioCodec,omitempty"`
	Protocol         string   `json:"protocol,omitempty"`
}

func (out Output) Summary() OutputSummary {
	s := OutputSummary{Path: string(out.Path), FailedConditions: out.FailedConditions}
	if out.Reasons != 0 {
		s.Reasons = strings.Split(out.Reasons.String(), ",")
	}
	if out.Profile != nil {
		s.TargetContainer = out.Profile.Container
		s.TargetVideoCodec = out.Profile.VideoCodec
		s.TargetAudioCodec = out.Profile.AudioCodec
		s.Protocol = out.Profile.Protocol
	}
	return s
}
