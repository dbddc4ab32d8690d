package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const StorageOptionsKey = "table:storage_options"

var ErrMissingAsset = errors.New("missing asset")

//go:embed item.schema.json
var itemSchemaData string

var itemSchema = jsonschema.MustCompileString("item.schema.json", itemSchemaData)

type Link struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
	Type string `json:"type,omitempty"`
}

type Asset struct {
	Href           string         `json:"href"`
	Type           string         `json:"type,omitempty"`
	Title          string         `json:"title,omitempty"`
	Roles          []string       `json:"roles,omitempty"`
	StorageOptions map[string]any `json:"table:storage_options,omitempty"`
}

type Item struct {
	Type           string            `json:"type"`
	StacVersion    string            `json:"stac_version"`
	StacExtensions []string          `json:"stac_extensions,omitempty"`
	Id             string            `json:"id"`
	Collection     string            `json:"collection,omitempty"`
	Bbox           []float64         `json:"bbox,omitempty"`
	Geometry       json.RawMessage   `json:"geometry,omitempty"`
	Properties     map[string]any    `json:"properties"`
	Links          []*Link           `json:"links"`
	Assets         map[string]*Asset `json:"assets"`
}

// Asset returns the named asset.  The returned asset shares its storage
// options with the item.
func (i *Item) Asset(key string) (*Asset, error) {
	asset, ok := i.Assets[key]
	if !ok || asset == nil {
		return nil, fmt.Errorf("%w %q in item %s", ErrMissingAsset, key, i.Id)
	}
	return asset, nil
}

type ItemCollection struct {
	Type     string  `json:"type"`
	Features []*Item `json:"features"`
	Links    []*Link `json:"links,omitempty"`
}

// decodeItem validates a raw item against the STAC item schema before
// decoding it.
func decodeItem(data json.RawMessage) (*Item, error) {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("failed to parse item: %w", err)
	}
	if err := itemSchema.Validate(value); err != nil {
		validationErr, ok := err.(*jsonschema.ValidationError)
		if !ok {
			return nil, err
		}
		return nil, fmt.Errorf("invalid item: %s", validationMessage(validationErr))
	}

	item := &Item{}
	if err := json.Unmarshal(data, item); err != nil {
		return nil, fmt.Errorf("failed to decode item: %w", err)
	}
	return item, nil
}

func validationMessage(err *jsonschema.ValidationError) string {
	leaf := err
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	location := strings.TrimPrefix(leaf.InstanceLocation, "/")
	if location == "" {
		location = "item"
	}
	return fmt.Sprintf("%s is invalid: %s", location, leaf.Message)
}
