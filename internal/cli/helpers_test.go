package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/db"
)

func TestParsePriority(t *testing.T) {
	cases := []struct {
		raw  string
		want int
	}{
		{"high", 10},
		{"medium", 50},
		{"low", 90},
		{"", 50},
		{"0", 0},
		{"100", 100},
		{"37", 37},
	}
	for _, tc := range cases {
		got, err := parsePriority(tc.raw)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}

	for _, raw := range []string{"urgent", "-1", "101", "ten"} {
		_, err := parsePriority(raw)
		assert.Error(t, err, raw)
	}
}

func TestColorStatusRespectsNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.Equal(t, "completed", colorStatus("completed"))
	assert.Equal(t, "failed", colorStatus("failed"))
}

func TestFindSectionByNameAndID(t *testing.T) {
	project := db.NewTestProjectDB(t)
	require.NoError(t, project.SaveSection(&db.Section{ID: "s1", Name: "core", Priority: 10}))

	byID, err := findSection(project, "s1")
	require.NoError(t, err)
	assert.Equal(t, "core", byID.Name)

	byName, err := findSection(project, "core")
	require.NoError(t, err)
	assert.Equal(t, "s1", byName.ID)

	_, err = findSection(project, "nope")
	assert.Error(t, err)
}
