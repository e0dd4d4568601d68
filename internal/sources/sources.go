// Package sources describes each connector source kind: which credential shape it
// expects, how its form is validated and which connector the admin page creates.
package sources

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/canvasadmin/canvasadmin/internal/models"
)

// Field is one input of a source's credential form.
type Field struct {
	Name     string
	Label    string
	Required string // message shown when the field is left empty
	Secret   bool
}

// FieldErrors maps a form field name to its validation message.
type FieldErrors map[string]string

// Error implements error so validation results can travel through error returns.
func (fe FieldErrors) Error() string {
	keys := make([]string, 0, len(fe))
	for k := range fe {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, fe[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Kind is the per-source descriptor used by the page, the management service and
// the scheduler.
type Kind interface {
	Source() models.DocumentSource
	DisplayName() string
	ConnectorName() string
	InputType() models.InputType
	RefreshFreq() time.Duration
	Fields() []Field
	// ValidateCredential returns nil when values form a complete credential.
	ValidateCredential(values map[string]string) FieldErrors
	// MatchCredential reports whether cred belongs to this source.
	MatchCredential(cred models.Credential) bool
	// CredentialKey is the value shown to identify cred in tables.
	CredentialKey(cred models.Credential) string
}

// Registry maps sources to their descriptors.
type Registry struct {
	kinds map[models.DocumentSource]Kind
}

// NewRegistry registers the given kinds.
func NewRegistry(kinds ...Kind) *Registry {
	r := &Registry{kinds: make(map[models.DocumentSource]Kind, len(kinds))}
	for _, k := range kinds {
		r.kinds[k.Source()] = k
	}
	return r
}

// Default returns a registry with every built-in kind.
func Default() *Registry {
	return NewRegistry(NewCanvas())
}

// Lookup returns the kind for source.
func (r *Registry) Lookup(source models.DocumentSource) (Kind, bool) {
	k, ok := r.kinds[source]
	return k, ok
}

// Kinds lists registered kinds ordered by source.
func (r *Registry) Kinds() []Kind {
	out := make([]Kind, 0, len(r.kinds))
	for _, k := range r.kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source() < out[j].Source() })
	return out
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateStruct runs the validator and translates failures using fields.
func validateStruct(v *validator.Validate, s any, fields []Field) FieldErrors {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return FieldErrors{"_": err.Error()}
	}

	messages := make(map[string]string, len(fields))
	for _, f := range fields {
		messages[f.Name] = f.Required
	}

	out := FieldErrors{}
	for _, fe := range verrs {
		msg := messages[fe.Field()]
		if fe.Tag() != "required" || msg == "" {
			msg = fmt.Sprintf("failed %s validation", fe.Tag())
		}
		out[fe.Field()] = msg
	}
	return out
}
