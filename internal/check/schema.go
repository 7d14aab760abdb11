package check

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	swarmhttp "github.com/wesleyorama2/swarm/internal/http"
	"github.com/wesleyorama2/swarm/internal/session"
)

// JSONSchema validates the whole JSON body against schema. The decoded
// body is what SaveAs stores.
func JSONSchema(schema string) Check {
	compiler := jsonschema.NewCompiler()
	c := New(bodyJSONExtractor{})
	if err := compiler.AddResource("schema.json", strings.NewReader(schema)); err != nil {
		c.err = fmt.Errorf("invalid schema: %w", err)
		return c
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		c.err = fmt.Errorf("invalid schema: %w", err)
		return c
	}
	return c.withValidator(validator{
		name: "matchesSchema",
		fn: func(resp *swarmhttp.Response, _ session.Value, found bool, _ *session.Session) error {
			if !found {
				return fmt.Errorf("empty body")
			}
			var doc any
			if err := json.Unmarshal(resp.Body, &doc); err != nil {
				return fmt.Errorf("invalid JSON: %w", err)
			}
			if err := compiled.Validate(doc); err != nil {
				var ve *jsonschema.ValidationError
				if errors.As(err, &ve) {
					return errors.New(strings.Join(validationMessages(ve), "; "))
				}
				return err
			}
			return nil
		},
	})
}

func validationMessages(err *jsonschema.ValidationError) []string {
	var msgs []string
	if err.Message != "" && len(err.Causes) == 0 {
		msgs = append(msgs, fmt.Sprintf("%s: %s", err.InstanceLocation, err.Message))
	}
	for _, cause := range err.Causes {
		msgs = append(msgs, validationMessages(cause)...)
	}
	return msgs
}

type bodyJSONExtractor struct{}

func (bodyJSONExtractor) Extract(resp *swarmhttp.Response) (session.Value, bool, error) {
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return session.Null(), false, nil
	}
	var doc any
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		return session.Null(), false, fmt.Errorf("response is not JSON: %w", err)
	}
	v, err := session.FromAny(doc)
	return v, err == nil, err
}

func (bodyJSONExtractor) String() string { return "bodyJSON" }
