package validator

import (
	"regexp"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	workflowNameRegex   = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	interruptTokenRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

func workflowNameValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	return workflowNameRegex.MatchString(val)
}

func interruptTokenValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	if val == "" {
		return true
	}
	return interruptTokenRegex.MatchString(val)
}

func uuidValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	_, err := uuid.Parse(val)
	return err == nil
}
