package backup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExclusionSet_Excluded(t *testing.T) {
	set := NewExclusionSet([]string{"*.log", "node_modules", " .git/ ", "", "var/cache", "build-?"})

	tests := []struct {
		rel  string
		want bool
	}{
		{"app.log", true},
		{"app.txt", false},
		{"logs/app.log", true},
		{"logs/app.log.1", false},
		{"web/node_modules/react/index.js", true},
		{"web/my_node_modules_backup/x", true},
		{".git/HEAD", true},
		{".gitignore", true},
		{"srv/var/cache/item", true},
		{"var/cached", false},
		{"build-1/out", true},
		{"build-10/out", false},
		{"src/main.go", false},
		{".", false},
	}

	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			assert.Equal(t, tt.want, set.Excluded(tt.rel))
		})
	}

	assert.Equal(t, []string{"*.log", "node_modules", ".git", "var/cache", "build-?"}, set.Patterns())
}

func TestExclusionSet_Empty(t *testing.T) {
	var nilSet *ExclusionSet
	assert.False(t, nilSet.Excluded("anything"))
	assert.False(t, NewExclusionSet(nil).Excluded("app.log"))
}
