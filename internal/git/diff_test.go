package git

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseShortstat(t *testing.T) {
	tests := []struct {
		name string
		give string
		want DiffStat
	}{
		{name: "empty"},
		{
			name: "full",
			give: "3 files changed, 10 insertions(+), 2 deletions(-)",
			want: DiffStat{FilesChanged: 3, Insertions: 10, Deletions: 2},
		},
		{
			name: "insertions only",
			give: "1 file changed, 5 insertions(+)",
			want: DiffStat{FilesChanged: 1, Insertions: 5},
		},
		{
			name: "deletions only",
			give: "1 file changed, 7 deletions(-)",
			want: DiffStat{FilesChanged: 1, Deletions: 7},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseShortstat(tt.give))
		})
	}
}
