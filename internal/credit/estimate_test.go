package credit

import (
	"errors"
	"testing"

	"github.com/neviso/core/internal/core/domain"
)

func TestEstimate(t *testing.T) {
	est := NewEstimator(dec("0.5"))

	tests := []struct {
		name      string
		artifacts []*domain.ArtifactRef
		want      string
		wantErr   bool
	}{
		{
			name:      "audio rounds up to two decimals",
			artifacts: []*domain.ArtifactRef{{Kind: domain.ArtifactKindAudio, DurationS: 61}},
			want:      "1.02", // 61/60 = 1.0166..
		},
		{
			name:      "exact minute",
			artifacts: []*domain.ArtifactRef{{Kind: domain.ArtifactKindVideo, DurationS: 120}},
			want:      "2",
		},
		{
			name:      "image fixed cost",
			artifacts: []*domain.ArtifactRef{{Kind: domain.ArtifactKindImage}},
			want:      "0.5",
		},
		{
			name: "mixed artifacts sum",
			artifacts: []*domain.ArtifactRef{
				{Kind: domain.ArtifactKindAudio, DurationS: 90},
				{Kind: domain.ArtifactKindImage},
				{Kind: domain.ArtifactKindImage},
			},
			want: "2.5",
		},
		{
			name:      "empty input costs nothing",
			artifacts: nil,
			want:      "0",
		},
		{
			name:      "missing duration rejected",
			artifacts: []*domain.ArtifactRef{{Kind: domain.ArtifactKindAudio}},
			wantErr:   true,
		},
		{
			name:      "unknown kind rejected",
			artifacts: []*domain.ArtifactRef{{Kind: "document"}},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := est.Estimate(tt.artifacts)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Expected error, got %s", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Estimate failed: %v", err)
			}
			if !got.Equal(dec(tt.want)) {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestEstimate_ErrorTypes(t *testing.T) {
	est := NewEstimator(dec("0.5"))

	_, err := est.Estimate([]*domain.ArtifactRef{{Kind: domain.ArtifactKindVideo}})
	if !errors.Is(err, ErrMissingDuration) {
		t.Errorf("Expected ErrMissingDuration, got %v", err)
	}

	_, err = est.Estimate([]*domain.ArtifactRef{{Kind: "pdf"}})
	var unsupported *UnsupportedArtifactError
	if !errors.As(err, &unsupported) {
		t.Errorf("Expected UnsupportedArtifactError, got %v", err)
	}
}
