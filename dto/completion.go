package dto

// CompletionRequest is what the core hands to the drafting/classification
// collaborator. SystemInstructions carries the configured prompt verbatim;
// the core never interprets it.
type CompletionRequest struct {
	SystemInstructions string `json:"systemInstructions"`
	UserContent        string `json:"userContent"`
}

// ActionSet is the structured action output expected back from the
// drafting agent. The agent response is untrusted: it is re-parsed
// defensively and falls back to the zero value, which triage treats as
// "reviewed, no action needed".
type ActionSet struct {
	Draft    string   `json:"draft,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Label    string   `json:"label,omitempty"`
	Archive  bool     `json:"archive,omitempty"`
	Reviewed bool     `json:"reviewed,omitempty"`
}

func (a ActionSet) IsEmpty() bool {
	return a.Draft == "" && len(a.Tags) == 0 && a.Label == "" && !a.Archive
}
