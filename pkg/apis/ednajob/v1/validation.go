/*
Copyright 2024 The EdnaJob Controller Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package v1

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"k8s.io/apimachinery/pkg/util/validation"
)

// ErrVariableMismatch is returned when jobvariablenames and jobvariablevalues differ in length.
var ErrVariableMismatch = errors.New("job variable names and values differ in length")

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func specValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Registration only fails for empty tags or nil funcs.
		_ = validate.RegisterValidation("dns1123label", func(fl validator.FieldLevel) bool {
			return len(validation.IsDNS1123Label(fl.Field().String())) == 0
		})
		validate.RegisterStructValidation(variablesStructLevel, EdnaJobSpec{})
	})
	return validate
}

func variablesStructLevel(sl validator.StructLevel) {
	spec := sl.Current().Interface().(EdnaJobSpec)
	if len(spec.JobVariableNames) != len(spec.JobVariableValues) {
		sl.ReportError(spec.JobVariableValues, "JobVariableValues", "jobvariablevalues", "eqlen", "")
	}
}

// Validate checks the fields the controller needs to provision the job.
func (j *EdnaJob) Validate() error {
	if !j.Spec.State.IsValid() {
		return fmt.Errorf("unknown job state %q", j.Spec.State)
	}
	if err := specValidator().Struct(j.Spec); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				if fe.Tag() == "eqlen" {
					return fmt.Errorf("invalid EdnaJob %s/%s: %w", j.Namespace, j.Name, ErrVariableMismatch)
				}
			}
		}
		return fmt.Errorf("invalid EdnaJob %s/%s: %w", j.Namespace, j.Name, err)
	}
	return nil
}
