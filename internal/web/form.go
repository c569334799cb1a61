// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/holomush/shavon/internal/auth"
)

// LoginSchemaID is the $id of the generated login schema.
const LoginSchemaID = "https://shavon.dev/schemas/login.schema.json"

// LoginForm is the JSON body of POST /auth/login/proc.
type LoginForm struct {
	Email    string `json:"email" jsonschema:"required,minLength=1,maxLength=255" jsonschema_description:"Account email address"`
	Password string `json:"password" jsonschema:"required,minLength=1" jsonschema_description:"Account password"`
	Captcha  string `json:"captcha,omitempty" jsonschema:"oneof_type=string;null" jsonschema_description:"Captcha response, required after repeated failures"`
}

// GenerateLoginSchema reflects LoginForm into an indented JSON Schema.
func GenerateLoginSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}
	schema := r.Reflect(&LoginForm{})
	schema.ID = jsonschema.ID(LoginSchemaID)
	schema.Title = "Shavon Login Form"
	schema.Description = "Body of POST /auth/login/proc"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.Code("SCHEMA_MARSHAL_FAILED").Wrap(err)
	}
	return data, nil
}

var loginSchema = sync.OnceValues(func() (*jschema.Schema, error) {
	data, err := GenerateLoginSchema()
	if err != nil {
		return nil, err
	}
	doc, err := jschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, oops.Code("SCHEMA_COMPILE_FAILED").Wrap(err)
	}

	c := jschema.NewCompiler()
	if err := c.AddResource(LoginSchemaID, doc); err != nil {
		return nil, oops.Code("SCHEMA_COMPILE_FAILED").Wrap(err)
	}
	sch, err := c.Compile(LoginSchemaID)
	if err != nil {
		return nil, oops.Code("SCHEMA_COMPILE_FAILED").Wrap(err)
	}
	return sch, nil
})

// DecodeLoginForm validates body against the login schema and decodes it.
// Schema violations wrap auth.ErrValidation.
func DecodeLoginForm(body []byte) (*LoginForm, error) {
	sch, err := loginSchema()
	if err != nil {
		return nil, err
	}

	doc, err := jschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return nil, oops.Code("LOGIN_FORM_MALFORMED").Wrapf(auth.ErrValidation, "login body is not JSON")
	}
	if err := sch.Validate(doc); err != nil {
		return nil, oops.Code("LOGIN_FORM_INVALID").With("violation", err.Error()).Wrapf(auth.ErrValidation, "login body does not match schema")
	}

	var form LoginForm
	if err := json.Unmarshal(body, &form); err != nil {
		return nil, oops.Code("LOGIN_FORM_MALFORMED").Wrapf(auth.ErrValidation, "decode login body")
	}
	return &form, nil
}
