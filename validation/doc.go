// Package validation provides input validation for streamsight boundaries.
//
// It supports both struct tag validation (using the validator library) for
// plan documents and API request bodies, and programmatic validation with
// error collection for handler-level checks.
//
// # Struct Tag Validation
//
//	type ContainerPlan struct {
//	    RequiredResources Resources  `json:"required_resources" validate:"required"`
//	    Instances         []Instance `json:"instances" validate:"required,min=1,dive"`
//	}
//	err := validation.Validate(plan)
//
// # Programmatic Validation
//
//	v := validation.New()
//	v.Required("topology", id).Positive("rate", r)
//	err := v.Validate()
package validation
