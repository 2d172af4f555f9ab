package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClassification(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Classification
	}{
		{
			name: "plain json",
			in:   `{"label": "TASK", "confidence": 0.72}`,
			want: Classification{Label: LabelTask, Confidence: 0.72},
		},
		{
			name: "fenced json",
			in:   "```json\n{\"label\": \"urgent\", \"confidence\": 0.9}\n```",
			want: Classification{Label: LabelUrgent, Confidence: 0.9},
		},
		{
			name: "json in prose",
			in:   `Sure! {"label": "SPAM", "confidence": 1.4} hope that helps`,
			want: Classification{Label: LabelSpam, Confidence: 1},
		},
		{
			name: "unknown label coerced",
			in:   `{"label": "SOCIAL", "confidence": 0.8}`,
			want: Classification{Label: LabelGray, Confidence: 0.8},
		},
		{
			name: "missing confidence",
			in:   `{"label": "IMPORTANT"}`,
			want: Classification{Label: LabelImportant, Confidence: 0.5},
		},
		{
			name: "label lines",
			in:   "**Label:** PROMOTION\nConfidence: 0.66",
			want: Classification{Label: LabelPromotion, Confidence: 0.66},
		},
		{
			name: "bare vocabulary word",
			in:   "I would call this one URGENT.",
			want: Classification{Label: LabelUrgent, Confidence: 0.5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseClassification(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want.Label, got.Label)
			assert.InDelta(t, tt.want.Confidence, got.Confidence, 1e-9)
		})
	}
}

func TestParseClassificationMalformed(t *testing.T) {
	for _, in := range []string{"", "```\n```", "I cannot help with that.", `{"confidence": 0.3}`} {
		_, err := ParseClassification(in)
		assert.ErrorIs(t, err, ErrMalformed, "input %q", in)
	}
}
