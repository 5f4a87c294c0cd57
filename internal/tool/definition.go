// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_tool

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"
)

// Definition is a tool declaration in the realtime protocol's
// function-definition format, sent inside the session configuration.
type Definition struct {
	Type        string                 `json:"type"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// Describe builds a Definition whose parameter schema is reflected from the
// params prototype struct. Field tags (json, jsonschema) control naming and
// descriptions. Pass nil for tools that take no arguments.
func Describe(name, description string, params interface{}) Definition {
	def := Definition{
		Type:        "function",
		Name:        name,
		Description: description,
	}
	if params == nil {
		return def
	}

	reflector := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(params)
	// The wire format wants a plain JSON-schema object, not the reflector's
	// wrapper type; round-trip through JSON to flatten it.
	raw, err := json.Marshal(schema)
	if err != nil {
		return def
	}
	var parameters map[string]interface{}
	if err := json.Unmarshal(raw, &parameters); err != nil {
		return def
	}
	delete(parameters, "$schema")
	def.Parameters = parameters
	return def
}

// DecodeParams decodes loosely-typed tool arguments into a typed parameter
// struct. Decoding is weakly typed ("3" → 3) because realtime models are not
// strict about argument value types.
func DecodeParams(params map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(params)
}
