// Package validate defines the validation capability invoked between the
// transform and write stages. The pipeline core consumes Validator as an
// injected dependency; schema-specific rules live in implementations.
package validate

import (
	"context"
	"fmt"
	"time"

	"github.com/chemflow/chemflow/pkg/cferrors"
	"github.com/chemflow/chemflow/pkg/merge"
)

// Validator checks a merged table against a schema contract. A returned
// error aborts the run before anything is written.
type Validator interface {
	Validate(ctx context.Context, rows []merge.MergedRow) error
}

// FieldType names the value types the schema validator understands.
type FieldType string

const (
	FieldTypeString    FieldType = "string"
	FieldTypeInt       FieldType = "int"
	FieldTypeFloat     FieldType = "float"
	FieldTypeBool      FieldType = "bool"
	FieldTypeTimestamp FieldType = "timestamp"
)

// FieldRule is the schema contract for one output field.
type FieldRule struct {
	Name     string
	Type     FieldType
	Required bool
}

// SchemaValidator is a basic Validator: every row needs a non-empty business
// key, required fields must resolve to non-null values, and typed fields
// must carry values of the declared type.
type SchemaValidator struct {
	rules []FieldRule
}

// NewSchemaValidator creates a validator from field rules.
func NewSchemaValidator(rules []FieldRule) *SchemaValidator {
	return &SchemaValidator{rules: rules}
}

// Validate implements Validator.
func (v *SchemaValidator) Validate(ctx context.Context, rows []merge.MergedRow) error {
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return cferrors.Wrap(err, cferrors.ErrorTypeValidation, "validation cancelled")
		}

		if row.BusinessKey == "" {
			return cferrors.Newf(cferrors.ErrorTypeValidation, "row %d has an empty business key", i)
		}

		for _, rule := range v.rules {
			resolved, ok := row.Fields[rule.Name]
			value := interface{}(nil)
			if ok {
				value = resolved.Value
			}

			if value == nil {
				if rule.Required {
					return cferrors.Newf(cferrors.ErrorTypeValidation, "required field %s is null", rule.Name).
						WithDetail("business_key", row.BusinessKey)
				}
				continue
			}

			if err := checkType(rule, value); err != nil {
				return cferrors.Wrap(err, cferrors.ErrorTypeValidation, "type check failed").
					WithDetail("business_key", row.BusinessKey).
					WithDetail("field", rule.Name)
			}
		}
	}
	return nil
}

// checkType verifies value matches the rule's declared type.
func checkType(rule FieldRule, value interface{}) error {
	ok := false
	switch rule.Type {
	case FieldTypeString:
		_, ok = value.(string)
	case FieldTypeInt:
		switch value.(type) {
		case int, int32, int64:
			ok = true
		}
	case FieldTypeFloat:
		switch value.(type) {
		case float32, float64:
			ok = true
		}
	case FieldTypeBool:
		_, ok = value.(bool)
	case FieldTypeTimestamp:
		_, ok = value.(time.Time)
	default:
		return fmt.Errorf("unknown field type %q", rule.Type)
	}

	if !ok {
		return fmt.Errorf("field %s: expected %s, got %T", rule.Name, rule.Type, value)
	}
	return nil
}
