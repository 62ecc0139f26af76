package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

// Schema names accepted by Validate.
const (
	SchemaHello   = "hello"
	SchemaWelcome = "welcome"
	SchemaCmd     = "cmd"
	SchemaResult  = "result"
	SchemaStatus  = "status"
)

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

func loadSchemas() {
	schemas = map[string]*jsonschema.Schema{}
	for _, name := range []string{SchemaHello, SchemaWelcome, SchemaCmd, SchemaResult, SchemaStatus} {
		file := name + ".schema.json"
		raw, err := schemaFS.ReadFile("schemas/" + file)
		if err != nil {
			schemasErr = err
			return
		}
		s, err := jsonschema.CompileString(file, string(raw))
		if err != nil {
			schemasErr = fmt.Errorf("%s: %w", file, err)
			return
		}
		schemas[name] = s
	}
}

// Validate checks a raw JSON message against the named schema.
func Validate(name string, raw []byte) error {
	schemasOnce.Do(loadSchemas)
	if schemasErr != nil {
		return schemasErr
	}
	s, ok := schemas[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return err
	}
	return s.Validate(v)
}

func ValidateHello(raw []byte) error   { return Validate(SchemaHello, raw) }
func ValidateCommand(raw []byte) error { return Validate(SchemaCmd, raw) }
