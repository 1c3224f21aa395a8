package enum

type RuleType string

const (
	RuleSender         RuleType = "sender"
	RuleSubject        RuleType = "subject"
	RuleClassification RuleType = "classification"
)

func (t RuleType) String() string {
	return string(t)
}
