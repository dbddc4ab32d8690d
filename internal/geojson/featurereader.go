package geojson

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	orbjson "github.com/paulmach/orb/geojson"
	"github.com/planetlabs/gbifprep/internal/geo"
)

type readerState int

const (
	stateStart readerState = iota
	stateCollection
	stateSequence
	stateDone
)

// FeatureReader streams features from a FeatureCollection, a single Feature,
// or newline-delimited Features.
type FeatureReader struct {
	decoder *json.Decoder
	state   readerState
	crs     string
	keys    []string
	seen    map[string]bool
}

func NewFeatureReader(input io.Reader) *FeatureReader {
	return &FeatureReader{
		decoder: json.NewDecoder(input),
		seen:    map[string]bool{},
	}
}

// CRS returns the identifier from a legacy "crs" member (e.g. EPSG:4269).
// It is empty when the input has no crs member before its features.
func (r *FeatureReader) CRS() string {
	return r.crs
}

// PropertyNames lists the property names read so far in the order they were
// first seen.
func (r *FeatureReader) PropertyNames() []string {
	return r.keys
}

func (r *FeatureReader) Read() (*geo.Feature, error) {
	switch r.state {
	case stateDone:
		return nil, io.EOF
	case stateCollection:
		return r.readCollectionMember()
	case stateSequence:
		return r.readSequenceMember()
	}

	token, err := r.decoder.Token()
	if err == io.EOF {
		r.state = stateDone
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}

	delim, ok := token.(json.Delim)
	if !ok || delim != json.Delim('{') {
		return nil, fmt.Errorf("expected a JSON object, got %s", token)
	}

	members := map[string]json.RawMessage{}
	for r.decoder.More() {
		keyToken, err := r.decoder.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyToken.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token: %v", keyToken)
		}

		switch key {
		case "features":
			if err := expectDelim(r.decoder, '['); err != nil {
				return nil, fmt.Errorf("expected an array of features: %w", err)
			}
			r.state = stateCollection
			return r.readCollectionMember()
		case "crs":
			crs := &legacyCRS{}
			if err := r.decoder.Decode(crs); err != nil {
				return nil, fmt.Errorf("trouble parsing crs: %w", err)
			}
			r.crs = crs.identifier()
		default:
			var value json.RawMessage
			if err := r.decoder.Decode(&value); err != nil {
				return nil, err
			}
			members[key] = value
		}
	}

	if err := expectDelim(r.decoder, '}'); err != nil {
		return nil, err
	}

	if typeName(members) != "Feature" {
		r.state = stateDone
		return nil, errors.New("expected a FeatureCollection or a Feature object")
	}

	feature, err := r.featureFromMembers(members)
	if err != nil {
		return nil, err
	}

	r.state = stateDone
	if r.decoder.More() {
		r.state = stateSequence
	}
	return feature, nil
}

func (r *FeatureReader) readCollectionMember() (*geo.Feature, error) {
	if !r.decoder.More() {
		r.state = stateDone
		return nil, io.EOF
	}
	return r.decodeFeature()
}

func (r *FeatureReader) readSequenceMember() (*geo.Feature, error) {
	if !r.decoder.More() {
		r.state = stateDone
		return nil, io.EOF
	}
	return r.decodeFeature()
}

func (r *FeatureReader) decodeFeature() (*geo.Feature, error) {
	members := map[string]json.RawMessage{}
	if err := r.decoder.Decode(&members); err != nil {
		r.state = stateDone
		return nil, err
	}
	if name := typeName(members); name != "Feature" {
		return nil, fmt.Errorf("expected a Feature, got %q", name)
	}
	return r.featureFromMembers(members)
}

func (r *FeatureReader) featureFromMembers(members map[string]json.RawMessage) (*geo.Feature, error) {
	feature := &geo.Feature{Type: "Feature"}

	if raw, ok := members["geometry"]; ok && !isNull(raw) {
		geometry := &orbjson.Geometry{}
		if err := json.Unmarshal(raw, geometry); err != nil {
			return nil, fmt.Errorf("trouble parsing geometry: %w", err)
		}
		feature.Geometry = geometry.Geometry()
	}

	properties := map[string]any{}
	if raw, ok := members["properties"]; ok && !isNull(raw) {
		keys, err := decodeProperties(raw, properties)
		if err != nil {
			return nil, fmt.Errorf("trouble parsing properties: %w", err)
		}
		for _, key := range keys {
			if !r.seen[key] {
				r.seen[key] = true
				r.keys = append(r.keys, key)
			}
		}
	}
	feature.Properties = properties

	if raw, ok := members["id"]; ok && !isNull(raw) {
		var id any
		if err := json.Unmarshal(raw, &id); err != nil {
			return nil, fmt.Errorf("trouble parsing id: %w", err)
		}
		_, stringId := id.(string)
		_, floatId := id.(float64)
		if !stringId && !floatId {
			return nil, fmt.Errorf("expected id to be a string or number, got: %s", raw)
		}
		feature.Id = id
	}

	return feature, nil
}

// decodeProperties fills properties and returns the keys in document order.
// Numbers keep their source text as json.Number values.
func decodeProperties(data json.RawMessage, properties map[string]any) ([]string, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := expectDelim(decoder, '{'); err != nil {
		return nil, err
	}

	keys := []string{}
	for decoder.More() {
		keyToken, err := decoder.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyToken.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token: %v", keyToken)
		}
		var value any
		if err := decoder.Decode(&value); err != nil {
			return nil, err
		}
		if _, exists := properties[key]; !exists {
			keys = append(keys, key)
		}
		properties[key] = value
	}
	return keys, nil
}

func expectDelim(decoder *json.Decoder, expected json.Delim) error {
	token, err := decoder.Token()
	if err != nil {
		return err
	}
	if delim, ok := token.(json.Delim); !ok || delim != expected {
		return fmt.Errorf("expected %s, got %v", expected, token)
	}
	return nil
}

func typeName(members map[string]json.RawMessage) string {
	var name string
	if raw, ok := members["type"]; ok {
		_ = json.Unmarshal(raw, &name)
	}
	return name
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

type legacyCRS struct {
	Type       string `json:"type"`
	Properties struct {
		Name string `json:"name"`
	} `json:"properties"`
}

// identifier turns an OGC URN like urn:ogc:def:crs:EPSG::4269 into EPSG:4269.
func (c *legacyCRS) identifier() string {
	name := c.Properties.Name
	if !strings.HasPrefix(strings.ToLower(name), "urn:ogc:def:crs:") {
		return name
	}
	parts := strings.Split(name[len("urn:ogc:def:crs:"):], ":")
	if len(parts) < 2 {
		return name
	}
	return parts[0] + ":" + parts[len(parts)-1]
}
