// Package codec decodes device payloads into field maps. Devices post JSON
// or, on constrained links, CBOR; both end up as map[string]any so a single
// validator handles every transport.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeCBOR = "application/cbor"
)

var ErrEmptyPayload = errors.New("empty payload")

// decMode decodes untyped CBOR maps as map[string]any so the result is
// interchangeable with encoding/json output.
var decMode cbor.DecMode

func init() {
	var err error
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// DecodeFields decodes a single JSON or CBOR object. The format comes from
// contentType; when it is empty or unrecognized the payload is sniffed.
func DecodeFields(contentType string, payload []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, ErrEmptyPayload
	}
	switch mediaType(contentType) {
	case ContentTypeJSON:
		return decodeJSON(payload)
	case ContentTypeCBOR:
		return decodeCBOR(payload)
	}
	if looksLikeJSON(payload) {
		return decodeJSON(payload)
	}
	return decodeCBOR(payload)
}

func decodeJSON(payload []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if fields == nil {
		return nil, errors.New("decode json: payload is not an object")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("decode json: trailing data after object")
	}
	return fields, nil
}

func decodeCBOR(payload []byte) (map[string]any, error) {
	var fields map[string]any
	if err := decMode.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("decode cbor: %w", err)
	}
	if fields == nil {
		return nil, errors.New("decode cbor: payload is not a map")
	}
	return fields, nil
}

func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

func looksLikeJSON(payload []byte) bool {
	trimmed := bytes.TrimLeft(payload, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}
