// Package businessflow contains the use cases behind the HTTP API: saved
// searches, ads accounts and customer-match audiences, all scoped to the
// calling principal.
package businessflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validateRequest runs struct tags and turns failures into one VALIDATION_ERROR
func validateRequest(v *validator.Validate, req any) error {
	if err := v.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
			}
			return NewBusinessError("VALIDATION_ERROR", strings.Join(msgs, "; "), err)
		}
		return NewBusinessError("VALIDATION_ERROR", "invalid request", err)
	}
	return nil
}

// defaultPageSize applies when a list request leaves page_size out
const defaultPageSize = 20
