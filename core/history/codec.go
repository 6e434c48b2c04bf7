package history

import (
	"bytes"

	json "github.com/goccy/go-json"

	hubErrors "github.com/heremaps/xyz-hub-sub023/core/errors"
	"github.com/heremaps/xyz-hub-sub023/core/feature"
)

func encodeFeature(f *feature.Feature) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, hubErrors.Wrap(hubErrors.KindIllegalArgument, "encode feature", err)
	}
	return data, nil
}

// decodeFeature keeps numbers as json.Number so large integers survive a
// round trip through storage.
func decodeFeature(data []byte) (*feature.Feature, error) {
	var f feature.Feature
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&f); err != nil {
		return nil, hubErrors.Wrap(hubErrors.KindInvariantViolation, "decode stored feature", err)
	}
	return &f, nil
}
