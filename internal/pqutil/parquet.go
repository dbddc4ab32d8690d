package pqutil

import (
	pqschema "github.com/apache/arrow/go/v16/parquet/schema"
)

// LookupNode finds a top-level field by name.
func LookupNode(schema *pqschema.Schema, name string) (pqschema.Node, bool) {
	root := schema.Root()
	index := root.FieldIndexByName(name)
	if index < 0 {
		return nil, false
	}

	return root.Field(index), true
}

// LookupPrimitiveNode finds a top-level leaf column by name.  Group fields
// are not matched.
func LookupPrimitiveNode(schema *pqschema.Schema, name string) (*pqschema.PrimitiveNode, bool) {
	node, ok := LookupNode(schema, name)
	if !ok {
		return nil, false
	}

	primitive, ok := node.(*pqschema.PrimitiveNode)
	return primitive, ok
}
