package ingest

import (
	"encoding/json"
	"fmt"
	"mime"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"agrosentry/internal/domain"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeCBOR = "application/cbor"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	encMode, err = opts.EncMode()
	if err != nil {
		panic("ingest: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("ingest: CBOR decoder initialization failed: " + err.Error())
	}
}

// Decode parses a sample body. JSON is assumed when the content type is
// empty or unrecognised.
func Decode(contentType string, data []byte) (Sample, error) {
	var s Sample
	switch mediaType(contentType) {
	case ContentTypeCBOR:
		if err := decMode.Unmarshal(data, &s); err != nil {
			return Sample{}, fmt.Errorf("decode cbor sample: %v: %w", err, domain.ErrInvalid)
		}
	default:
		if err := json.Unmarshal(data, &s); err != nil {
			return Sample{}, fmt.Errorf("decode json sample: %v: %w", err, domain.ErrInvalid)
		}
	}
	return s, nil
}

// Encode is the inverse of Decode, used by simulators and tests.
func Encode(contentType string, s Sample) ([]byte, error) {
	if mediaType(contentType) == ContentTypeCBOR {
		return encMode.Marshal(s)
	}
	return json.Marshal(s)
}

func mediaType(contentType string) string {
	if contentType == "" {
		return ContentTypeJSON
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}
