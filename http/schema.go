package http

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const addBookSchema = `{
	"type": "object",
	"required": ["name", "copies"],
	"properties": {
		"name": {"type": "string"},
		"copies": {"type": "integer"}
	},
	"additionalProperties": false
}`

const amountSchema = `{
	"type": "object",
	"required": ["amount"],
	"properties": {
		"amount": {"type": "string", "pattern": "^[0-9]+$"}
	},
	"additionalProperties": false
}`

const connectSchema = `{
	"type": "object",
	"required": ["connector"],
	"properties": {
		"connector": {"type": "string", "minLength": 1}
	},
	"additionalProperties": false
}`

// Request schemas compiled once at init.
var (
	addBookRequestSchema = mustSchema(addBookSchema)
	amountRequestSchema  = mustSchema(amountSchema)
	connectRequestSchema = mustSchema(connectSchema)
)

func mustSchema(raw string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid request schema: %v", err))
	}
	return schema
}

// validateBody checks body against schema. Value rules such as copies > 0 are
// left to the client so both surfaces report the same messages.
func validateBody(schema *gojsonschema.Schema, body []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
	}
	return fmt.Errorf("invalid request: %s", strings.Join(problems, "; "))
}
