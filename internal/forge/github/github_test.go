package github

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRemoteURL(t *testing.T) {
	tests := []struct {
		name string
		give string
		base string

		wantOwner string
		wantRepo  string
		wantErr   string
	}{
		{
			name:      "https",
			give:      "https://github.com/alice/widgets.git",
			wantOwner: "alice",
			wantRepo:  "widgets",
		},
		{
			name:      "https without suffix",
			give:      "https://github.com/alice/widgets",
			wantOwner: "alice",
			wantRepo:  "widgets",
		},
		{
			name:      "scp-like ssh",
			give:      "git@github.com:alice/widgets.git",
			wantOwner: "alice",
			wantRepo:  "widgets",
		},
		{
			name:      "ssh scheme",
			give:      "ssh://git@github.com/alice/widgets.git",
			wantOwner: "alice",
			wantRepo:  "widgets",
		},
		{
			name:      "enterprise host",
			give:      "https://github.example.com/team/tool",
			base:      "https://github.example.com",
			wantOwner: "team",
			wantRepo:  "tool",
		},
		{
			name:    "wrong host",
			give:    "https://gitlab.com/alice/widgets",
			wantErr: "not on github.com",
		},
		{
			name:    "missing repo",
			give:    "https://github.com/alice",
			wantErr: "cannot extract",
		},
		{
			name:    "scp-like wrong host",
			give:    "git@gitlab.com:alice/widgets.git",
			wantErr: "not on github.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, repo, err := parseRemoteURL(tt.give, tt.base)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOwner, owner)
			assert.Equal(t, tt.wantRepo, repo)
		})
	}
}

func TestPRNodeToPR(t *testing.T) {
	node := &prNode{
		Number:      42,
		Title:       "Add widgets",
		State:       "MERGED",
		IsDraft:     false,
		HeadRefName: "feat-widgets",
		BaseRefName: "main",
	}

	pr := node.toPR()
	assert.Equal(t, 42, pr.Number)
	assert.Equal(t, "feat-widgets", pr.Head)
	assert.Equal(t, "main", pr.Base)
	assert.Equal(t, "merged", string(pr.State))
}
