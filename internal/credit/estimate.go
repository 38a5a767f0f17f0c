package credit

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/neviso/core/internal/core/domain"
)

// ErrMissingDuration is returned when an audio/video artifact carries no
// probed duration; the cost of such input cannot be computed.
var ErrMissingDuration = errors.New("artifact has no probed duration")

// UnsupportedArtifactError is returned for artifact kinds the pipeline
// cannot price. Not retryable.
type UnsupportedArtifactError struct {
	Kind domain.ArtifactKind
}

func (e *UnsupportedArtifactError) Error() string {
	return fmt.Sprintf("unsupported artifact kind: %s", e.Kind)
}

// Estimator prices a job's input artifacts in credit minutes.
// Audio/video cost their probed duration; images cost a fixed per-unit
// amount from configuration.
type Estimator struct {
	ImageCost decimal.Decimal
}

// NewEstimator creates an estimator with the given per-image cost.
func NewEstimator(imageCost decimal.Decimal) *Estimator {
	return &Estimator{ImageCost: imageCost}
}

// Estimate returns the total required credit for the artifacts, rounded
// up to two decimals so fractional seconds are never undercharged.
func (e *Estimator) Estimate(artifacts []*domain.ArtifactRef) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, a := range artifacts {
		switch a.Kind {
		case domain.ArtifactKindAudio, domain.ArtifactKindVideo:
			if a.DurationS <= 0 {
				return decimal.Zero, fmt.Errorf("artifact %d: %w", a.ID, ErrMissingDuration)
			}
			minutes := decimal.NewFromFloat(a.DurationS).Div(decimal.NewFromInt(60))
			total = total.Add(minutes.RoundCeil(2))
		case domain.ArtifactKindImage:
			total = total.Add(e.ImageCost)
		default:
			return decimal.Zero, &UnsupportedArtifactError{Kind: a.Kind}
		}
	}
	return total.Round(2), nil
}
