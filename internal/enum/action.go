package enum

type ActionTag string

const (
	ActionNone     ActionTag = "none"
	ActionDrafted  ActionTag = "drafted"
	ActionTagged   ActionTag = "tagged"
	ActionLabeled  ActionTag = "labeled"
	ActionArchived ActionTag = "archived"
	ActionReviewed ActionTag = "reviewed"
	ActionSent     ActionTag = "sent"
)

func (t ActionTag) String() string {
	return string(t)
}
