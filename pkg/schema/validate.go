package schema

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/invopop/jsonschema"
	jsv "github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const resourceURL = "schema.json"

var (
	compiled sync.Map // *jsonschema.Schema => *jsv.Schema
	printer  = message.NewPrinter(language.English)
	indexRE  = regexp.MustCompile(`^[0-9]+$`)
)

// ValidationError describes all contract violations found in a value
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Problems, "; ")
}

// Compile compiles the schema for validation.
// The compiled form is cached for the lifetime of s,
// so s must not be modified after the first call.
func Compile(s *jsonschema.Schema) (*jsv.Schema, error) {
	if v, ok := compiled.Load(s); ok {
		return v.(*jsv.Schema), nil
	}

	js, err := json.Marshal(s)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal schema")
	}
	doc, err := jsv.UnmarshalJSON(bytes.NewReader(js))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode schema")
	}

	c := jsv.NewCompiler()
	c.AssertFormat()
	if err = c.AddResource(resourceURL, doc); err != nil {
		return nil, errors.Wrap(err, "failed to add schema")
	}
	sch, err := c.Compile(resourceURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compile schema")
	}

	v, _ := compiled.LoadOrStore(s, sch)
	return v.(*jsv.Schema), nil
}

// Validate checks that the value satisfies the schema.
// Go values are normalized to their JSON form first.
// A nil schema accepts any value.
func Validate(s *jsonschema.Schema, value any) error {
	if s == nil {
		return nil
	}
	sch, err := Compile(s)
	if err != nil {
		return err
	}
	value, err = Normalize(value)
	if err != nil {
		return err
	}

	err = sch.Validate(value)
	if err == nil {
		return nil
	}
	var verr *jsv.ValidationError
	if !errors.As(err, &verr) {
		return errors.WithStack(err)
	}
	res := &ValidationError{}
	collectProblems(verr, &res.Problems)
	if len(res.Problems) == 0 {
		res.Problems = append(res.Problems, verr.Error())
	}
	return res
}

func collectProblems(e *jsv.ValidationError, problems *[]string) {
	if len(e.Causes) == 0 {
		*problems = append(*problems, instancePath(e.InstanceLocation)+": "+e.ErrorKind.LocalizedString(printer))
		return
	}
	for _, cause := range e.Causes {
		collectProblems(cause, problems)
	}
}

// instancePath formats the location as $.labels[0].value
func instancePath(tokens []string) string {
	var sb strings.Builder
	sb.WriteByte('$')
	for _, tok := range tokens {
		if indexRE.MatchString(tok) {
			sb.WriteString("[" + tok + "]")
		} else {
			sb.WriteString("." + tok)
		}
	}
	return sb.String()
}

// Normalize converts a Go value into its JSON-compatible form,
// as it would be seen by the model.
func Normalize(value any) (any, error) {
	switch value.(type) {
	case nil, string, bool, float64, map[string]any, []any:
		return value, nil
	}
	js, err := json.Marshal(value)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal value")
	}
	var res any
	if err = json.Unmarshal(js, &res); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal value")
	}
	return res, nil
}
