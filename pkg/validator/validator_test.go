package validator

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
)

type createPayload struct {
	Name     string `json:"name" validate:"required,max=255,foldername"`
	ParentID string `json:"parent_id" validate:"omitempty,max=36"`
}

func TestValidateStructSuccess(t *testing.T) {
	require.NoError(t, ValidateStruct(createPayload{Name: "Sécurité"}))
	require.NoError(t, ValidateStruct(createPayload{Name: "<bad>:name", ParentID: "f-1"}))
}

func TestValidateStructFailures(t *testing.T) {
	err := ValidateStruct(createPayload{Name: `<>:"|?*`})
	require.Error(t, err)

	var failures ValidationErrors
	require.True(t, errors.As(err, &failures))
	require.Len(t, failures, 1)
	require.Equal(t, "name", failures[0].Field)
	require.Equal(t, "foldername", failures[0].Tag)
	require.Contains(t, failures.Error(), "name failed on foldername")

	err = ValidateStruct(createPayload{})
	require.True(t, errors.As(err, &failures))
	require.Equal(t, "required", failures[0].Tag)
}

func TestRegisterValidation(t *testing.T) {
	type payload struct {
		Path string `json:"path" validate:"nolead"`
	}

	require.NoError(t, RegisterValidation("nolead", func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		return value == "" || value[0] != '/'
	}))

	require.NoError(t, ValidateStruct(payload{Path: "Security/Malware"}))
	require.Error(t, ValidateStruct(payload{Path: "/Security"}))
}

func TestValidationErrorsEmpty(t *testing.T) {
	require.Equal(t, "validation failed", ValidationErrors{}.Error())
}
