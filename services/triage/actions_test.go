package triage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/inboxpilot/mailagent/dto"
)

func TestParseActionSet_PlainJson(t *testing.T) {
	actions := ParseActionSet(`{"draft":"Hi, thanks!","tags":["billing"],"label":"Invoices","archive":false}`)

	require.Equal(t, "Hi, thanks!", actions.Draft)
	require.Equal(t, []string{"billing"}, actions.Tags)
	require.Equal(t, "Invoices", actions.Label)
	require.False(t, actions.Archive)
	require.False(t, actions.IsEmpty())
}

func TestParseActionSet_MarkdownFenced(t *testing.T) {
	actions := ParseActionSet("```json\n{\"archive\": true}\n```")

	require.True(t, actions.Archive)
}

func TestParseActionSet_JsonEmbeddedInProse(t *testing.T) {
	actions := ParseActionSet("Sure, here is my assessment:\n{\"label\": \"Newsletters\", \"archive\": true}\nLet me know!")

	require.Equal(t, "Newsletters", actions.Label)
	require.True(t, actions.Archive)
}

func TestParseActionSet_GarbageFallsBackToEmpty(t *testing.T) {
	for _, response := range []string{
		"",
		"I could not decide what to do.",
		"{broken json",
		"```\nnot even json\n```",
	} {
		actions := ParseActionSet(response)
		require.Equal(t, dto.ActionSet{}, actions, "response %q", response)
		require.True(t, actions.IsEmpty())
	}
}
