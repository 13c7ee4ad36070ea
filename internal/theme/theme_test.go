package theme

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/subtitle-pipeline/internal/cue"
)

func themeCue(id, skeleton string, tokens ...string) cue.Cue {
	placeholders := make([]cue.Placeholder, len(tokens))
	for i, tok := range tokens {
		placeholders[i] = cue.Placeholder{Token: tok, Original: `{\k20}`}
	}
	return cue.Cue{
		ID:           id,
		Skeleton:     skeleton,
		Placeholders: placeholders,
		Style:        "OP",
		Format:       cue.FormatASS,
	}
}

func TestCanonicalize_RenumbersByPosition(t *testing.T) {
	t.Parallel()

	c := themeCue("1", "~p7:hika~p3:ri", "~p7:", "~p3:")
	template, own, err := Canonicalize(c)
	require.NoError(t, err)
	assert.Equal(t, "~p0:hika~p1:ri", template)
	assert.Equal(t, []string{"~p7:", "~p3:"}, own)
}

func TestCanonicalize_NoTokens(t *testing.T) {
	t.Parallel()

	template, own, err := Canonicalize(cue.Cue{ID: "1", Skeleton: "plain lyric"})
	require.NoError(t, err)
	assert.Equal(t, "plain lyric", template)
	assert.Empty(t, own)
}

func TestCanonicalize_RejectsRepeatedToken(t *testing.T) {
	t.Parallel()

	c := cue.Cue{
		ID:       "1",
		Skeleton: "~p0:a~p0:b",
		Placeholders: []cue.Placeholder{
			{Token: "~p0:", Original: "x"},
			{Token: "~p0:", Original: "y"},
		},
	}
	_, _, err := Canonicalize(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "more than once")
}

func TestBuildGroups_DedupesAcrossNumbering(t *testing.T) {
	t.Parallel()

	cues := []cue.Cue{
		themeCue("1", "~p0:sakura ~p1:saku", "~p0:", "~p1:"),
		themeCue("2", "~p5:sakura ~p9:saku", "~p5:", "~p9:"),
		themeCue("3", "different line"),
	}

	groups, fallback := BuildGroups(cues)
	require.Empty(t, fallback)
	require.Len(t, groups, 2)

	assert.Equal(t, "~p0:sakura ~p1:saku", groups[0].Template)
	assert.Equal(t, []string{"1", "2"}, cue.IDs(groups[0].Occurrences))
	assert.Equal(t, []string{"3"}, cue.IDs(groups[1].Occurrences))
}

func TestBuildGroups_NormalizesWhitespaceForSignature(t *testing.T) {
	t.Parallel()

	cues := []cue.Cue{
		themeCue("1", "sakura  saku"),
		themeCue("2", "sakura saku"),
	}

	groups, fallback := BuildGroups(cues)
	require.Empty(t, fallback)
	require.Len(t, groups, 1)
	assert.Equal(t, "sakura saku", groups[0].Signature)
	assert.Len(t, groups[0].Occurrences, 2)
}

func TestBuildGroups_InvalidCueFallsBack(t *testing.T) {
	t.Parallel()

	broken := cue.Cue{ID: "1", Skeleton: "~p0:text"} // token with no placeholder entry
	ok := themeCue("2", "fine")

	groups, fallback := BuildGroups([]cue.Cue{broken, ok})
	require.Len(t, groups, 1)
	require.Len(t, fallback, 1)
	assert.Equal(t, "1", fallback[0].ID)
}

func TestExpand_RestoresOwnTokensPerOccurrence(t *testing.T) {
	t.Parallel()

	cues := []cue.Cue{
		themeCue("1", "~p0:sakura ~p1:saku", "~p0:", "~p1:"),
		themeCue("2", "~p5:sakura ~p9:saku", "~p5:", "~p9:"),
	}
	groups, _ := BuildGroups(cues)
	require.Len(t, groups, 1)

	out, err := groups[0].Expand("~p0:樱花 ~p1:盛开")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, cue.TranslatedCue{ID: "1", Text: "~p0:樱花 ~p1:盛开"}, out[0])
	assert.Equal(t, cue.TranslatedCue{ID: "2", Text: "~p5:樱花 ~p9:盛开"}, out[1])
}

func TestExpand_SwappedNumberingDoesNotCollide(t *testing.T) {
	t.Parallel()

	// Occurrence tokens are the canonical tokens in reverse order, so a
	// naive sequential replace would overwrite its own output.
	c := themeCue("1", "~p1:a ~p0:b", "~p1:", "~p0:")
	groups, _ := BuildGroups([]cue.Cue{c})
	require.Len(t, groups, 1)
	assert.Equal(t, "~p0:a ~p1:b", groups[0].Template)

	out, err := groups[0].Expand("~p0:甲 ~p1:乙")
	require.NoError(t, err)
	assert.Equal(t, "~p1:甲 ~p0:乙", out[0].Text)
}

func TestExpand_TranslationMayReorderTokens(t *testing.T) {
	t.Parallel()

	c := themeCue("1", "~p3:a ~p8:b", "~p3:", "~p8:")
	groups, _ := BuildGroups([]cue.Cue{c})

	out, err := groups[0].Expand("~p1:乙 ~p0:甲")
	require.NoError(t, err)
	assert.Equal(t, "~p8:乙 ~p3:甲", out[0].Text)
}

func TestExpand_TokenMismatchFailsGroup(t *testing.T) {
	t.Parallel()

	c := themeCue("1", "~p0:a ~p1:b", "~p0:", "~p1:")
	groups, _ := BuildGroups([]cue.Cue{c})

	_, err := groups[0].Expand("missing tokens")
	require.Error(t, err)

	_, err = groups[0].Expand("~p0:only one")
	require.Error(t, err)

	_, err = groups[0].Expand("~p0:a ~p0:a ~p1:b")
	require.Error(t, err)
}

func TestExpand_PlaceholderFidelityPerOccurrence(t *testing.T) {
	t.Parallel()

	cues := []cue.Cue{
		themeCue("1", "~p2:la ~p4:la", "~p2:", "~p4:"),
		themeCue("2", "~p0:la ~p1:la", "~p0:", "~p1:"),
	}
	groups, _ := BuildGroups(cues)
	require.Len(t, groups, 1)

	out, err := groups[0].Expand("~p0:啦 ~p1:啦")
	require.NoError(t, err)

	for i, tc := range out {
		assert.True(t, cue.SameTokenMultiset(cue.Tokens(cues[i].Skeleton), cue.Tokens(tc.Text)),
			"occurrence %s must keep its own placeholder tokens", tc.ID)
	}
}

func TestCueIDs(t *testing.T) {
	t.Parallel()

	groups, _ := BuildGroups([]cue.Cue{
		themeCue("1", "a"),
		themeCue("2", "a"),
		themeCue("3", "b"),
	})
	assert.Equal(t, []string{"1", "2", "3"}, CueIDs(groups))
}
