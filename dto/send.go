package dto

type UpdateDraftRequest struct {
	Draft string `json:"draft"`
}

type RulesPayload struct {
	Rules []RulePayload `json:"rules"`
}

type RulePayload struct {
	Type  string `json:"type" binding:"required"`
	Value string `json:"value" binding:"required"`
}
