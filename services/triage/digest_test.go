package triage

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestBuildDigest_ShortBodyPassesThrough(t *testing.T) {
	body := "Hi,\ncan we move the call to 3pm?\nThanks"

	digest := BuildDigest(body, 1000)

	require.Equal(t, body, digest)
}

func TestBuildDigest_StripsQuotedReplies(t *testing.T) {
	body := "Sounds good, see you then.\n" +
		"\n" +
		"On Tue, 3 Jun 2025 at 09:12, Jane Doe <jane@example.com> wrote:\n" +
		"> are you free tomorrow?\n" +
		"> thanks\n"

	digest := BuildDigest(body, 1000)

	require.Equal(t, "Sounds good, see you then.", digest)
}

func TestBuildDigest_StripsForwardedBlock(t *testing.T) {
	body := "FYI below.\n" +
		"---------- Forwarded message ----------\n" +
		"From: other@example.com\n" +
		"old content\n"

	digest := BuildDigest(body, 1000)

	require.Equal(t, "FYI below.", digest)
}

func TestBuildDigest_PrioritizesQuestionsWithinBudget(t *testing.T) {
	filler := strings.Repeat("background detail about the project status. ", 10)
	body := filler + "\n" +
		"Could you send over the signed contract?\n" +
		"What is the timeline for phase two?\n" +
		filler

	digest := BuildDigest(body, 120)

	require.LessOrEqual(t, len(digest), 120)
	require.Contains(t, digest, "Could you send over the signed contract?")
	require.Contains(t, digest, "What is the timeline for phase two?")
	require.NotContains(t, digest, "background detail")
}

func TestBuildDigest_OversizedSingleLineHardCut(t *testing.T) {
	body := strings.Repeat("x", 5000)

	digest := BuildDigest(body, 1000)

	require.Len(t, digest, 1000)
}

func TestBuildDigest_HardCutKeepsValidUTF8(t *testing.T) {
	// 3-byte runes, so a naive byte cut at 1000 lands mid-character
	body := strings.Repeat("日本語", 600)

	digest := BuildDigest(body, 1000)

	require.LessOrEqual(t, len(digest), 1000)
	require.True(t, utf8.ValidString(digest))
}
