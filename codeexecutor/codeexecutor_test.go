package codeexecutor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		language string
		want     string
	}{
		{
			name:     "matching fence",
			raw:      "Here you go:\n```python\nprint(1)\n```\nHope it helps.",
			language: LanguagePython,
			want:     "print(1)",
		},
		{
			name:     "unlabelled fence",
			raw:      "```\nSELECT 1\n```",
			language: "sql",
			want:     "SELECT 1",
		},
		{
			name:     "skips other languages",
			raw:      "```bash\necho hi\n```\n```python\nprint(2)\n```",
			language: LanguagePython,
			want:     "print(2)",
		},
		{
			name:     "case insensitive language tag",
			raw:      "```SQL\nSELECT 2\n```",
			language: "sql",
			want:     "SELECT 2",
		},
		{
			name:     "bare code without fences",
			raw:      "  SELECT 3  ",
			language: "sql",
			want:     "SELECT 3",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractCode(tt.raw, tt.language))
		})
	}
}

func TestResultSucceeded(t *testing.T) {
	assert.True(t, Result{}.Succeeded())
	assert.False(t, Result{ExitCode: 1}.Succeeded())
}
