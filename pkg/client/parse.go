package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"

	"tetrio-api/pkg/models"
)

const maxSnippet = 120

var (
	validate = newValidator()

	// indexPattern matches the [i] and [key] parts of a validator namespace
	indexPattern = regexp.MustCompile(`\[([^\]]*)\]`)
)

func newValidator() *validator.Validate {
	v := validator.New()
	// Report JSON names so failing paths match the response body
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		switch name {
		case "-":
			return ""
		case "":
			return fld.Name
		}
		return name
	})
	return v
}

// ParseEnvelope decodes body into an envelope of T and validates it against
// the `validate` tags of the envelope and of T.
//
// On failure it returns a KindBodyParsing *Error whose Path is the JSON path
// of the offending field (for example "data.user.username") and whose
// Snippet holds the raw JSON found there.
func ParseEnvelope[T any](body []byte) (*models.Envelope[T], error) {
	var env models.Envelope[T]
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, decodeError(body, err)
	}

	if err := validate.Struct(env); err != nil {
		return nil, validationError(body, reflect.TypeOf(env).Name(), err)
	}

	return &env, nil
}

func decodeError(body []byte, err error) *Error {
	perr := &Error{Kind: KindBodyParsing, Err: err}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr):
		perr.Err = fmt.Errorf("invalid JSON at offset %d: %w", syntaxErr.Offset, err)
		perr.Snippet = around(body, syntaxErr.Offset)
	case errors.As(err, &typeErr):
		perr.Path = typeErr.Field
		perr.Snippet = rawAt(body, typeErr.Field)
	}

	return perr
}

func validationError(body []byte, root string, err error) *Error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &Error{Kind: KindBodyParsing, Err: err}
	}

	fe := fieldErrs[0]
	path := strings.TrimPrefix(fe.Namespace(), root+".")
	path = indexPattern.ReplaceAllString(path, ".$1")

	rule := fe.Tag()
	if fe.Param() != "" {
		rule += "=" + fe.Param()
	}

	return &Error{
		Kind:    KindBodyParsing,
		Path:    path,
		Snippet: rawAt(body, path),
		Err:     fmt.Errorf("field %s failed the %q rule", path, rule),
	}
}

// rawAt returns the raw JSON at a dotted path, or "" if nothing is there
func rawAt(body []byte, path string) string {
	if path == "" {
		return ""
	}
	return truncate(gjson.GetBytes(body, path).Raw)
}

func around(body []byte, offset int64) string {
	start := offset - maxSnippet/2
	if start < 0 {
		start = 0
	}
	end := offset + maxSnippet/2
	if end > int64(len(body)) {
		end = int64(len(body))
	}
	if start >= end {
		return ""
	}
	return string(body[start:end])
}

func truncate(s string) string {
	if len(s) <= maxSnippet {
		return s
	}
	return s[:maxSnippet] + "..."
}
