// Package write defines the write request model: batches of per-feature
// intents with their conflict policies, and the per-intent outcomes.
package write

import (
	"errors"

	"github.com/go-playground/validator/v10"

	hubErrors "github.com/heremaps/xyz-hub-sub023/core/errors"
	"github.com/heremaps/xyz-hub-sub023/core/feature"
)

var (
	ErrUnknownPolicy = errors.New("write: unknown policy value")
	ErrIDMismatch    = errors.New("write: feature id does not match intent id")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Intent asks for one feature to be created, changed or deleted. A nil
// Feature is a deletion request.
type Intent struct {
	FeatureID   string           `json:"featureId" validate:"required,max=1024"`
	Feature     *feature.Feature `json:"feature,omitempty"`
	BaseVersion *int64           `json:"baseVersion,omitempty" validate:"omitempty,gte=0"`
	Policies
	SpaceContext   feature.SpaceContext `json:"spaceContext,omitempty"`
	Author         string               `json:"author,omitempty" validate:"max=256"`
	RemoveGeometry bool                 `json:"removeGeometry,omitempty"`
}

func (i Intent) IsDeletion() bool {
	return i.Feature == nil
}

// Validate checks the intent on its own, without looking at stored state.
func (i Intent) Validate() error {
	if err := validate.Struct(i); err != nil {
		return hubErrors.Wrap(hubErrors.KindIllegalArgument, "invalid intent", err)
	}
	if i.Feature != nil && i.Feature.ID != "" && i.Feature.ID != i.FeatureID {
		return hubErrors.Wrap(hubErrors.KindIllegalArgument, "intent "+i.FeatureID, ErrIDMismatch)
	}
	return nil
}

// Batch is an ordered list of intents against one space.
type Batch struct {
	ID      string   `json:"id,omitempty"`
	SpaceID string   `json:"space" validate:"required"`
	Intents []Intent `json:"intents" validate:"required,min=1"`
}

// Validate checks the batch envelope. Individual intents are validated when
// they are applied so one bad intent does not reject its siblings.
func (b Batch) Validate() error {
	if err := validate.Struct(b); err != nil {
		return hubErrors.Wrap(hubErrors.KindIllegalArgument, "invalid batch", err)
	}
	return nil
}
