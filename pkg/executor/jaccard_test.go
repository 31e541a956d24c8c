package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarDescriptions(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{
			name: "identical",
			a:    "restart nginx because workers are wedged",
			b:    "restart nginx because workers are wedged",
			want: true,
		},
		{
			name: "stop words and punctuation ignored",
			a:    "Restart nginx, because the workers are wedged.",
			b:    "restart nginx because workers wedged",
			want: true,
		},
		{
			name: "different remediation",
			a:    "restart nginx because workers are wedged",
			b:    "vacuum journal logs to free disk space",
			want: false,
		},
		{
			name: "same subject different verb",
			a:    "restart postgresql after OOM kill",
			b:    "investigate postgresql slow queries since deploy",
			want: false,
		},
		{
			name: "both empty",
			a:    "",
			b:    "",
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, similarDescriptions(tt.a, tt.b))
		})
	}
}

func TestJaccard(t *testing.T) {
	a := descriptionTokens("restart nginx workers wedged")
	b := descriptionTokens("restart nginx workers stuck")
	// 3 shared of 5 distinct tokens.
	assert.InDelta(t, 0.6, jaccard(a, b), 0.001)

	assert.Equal(t, 1.0, jaccard(nil, nil))
	assert.Equal(t, 0.0, jaccard(a, map[string]bool{}))
}

func TestDescriptionTokens_DropsNoise(t *testing.T) {
	tokens := descriptionTokens("The nginx worker, on a host, is wedged!")
	assert.True(t, tokens["nginx"])
	assert.True(t, tokens["worker"])
	assert.True(t, tokens["wedged"])
	assert.True(t, tokens["host"])
	assert.False(t, tokens["the"])
	assert.False(t, tokens["on"])
	assert.False(t, tokens["a"])
	assert.False(t, tokens["is"])
}
