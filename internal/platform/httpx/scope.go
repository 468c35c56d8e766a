package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/pharmaledger/internal/shared"
)

// Headers carrying the caller identity. Authentication happens in front of this service.
const (
	HeaderOrgID   = "X-Org-ID"
	HeaderActorID = "X-Actor-ID"
)

// ScopeFromRequest reads organisation and actor identifiers from request headers.
func ScopeFromRequest(r *http.Request) (shared.Scope, error) {
	orgID, err := strconv.ParseInt(r.Header.Get(HeaderOrgID), 10, 64)
	if err != nil || orgID <= 0 {
		return shared.Scope{}, fmt.Errorf("%s header: %w", HeaderOrgID, ErrUnauthorized)
	}
	actorID, err := strconv.ParseInt(r.Header.Get(HeaderActorID), 10, 64)
	if err != nil || actorID <= 0 {
		return shared.Scope{}, fmt.Errorf("%s header: %w", HeaderActorID, ErrUnauthorized)
	}
	return shared.Scope{OrgID: orgID, ActorID: actorID}, nil
}

// IDParam parses a positive int64 chi URL parameter.
func IDParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.Invalid(name, "must be a positive integer")
	}
	return id, nil
}

// DecodeAndValidate decodes the JSON body and runs struct validation tags.
func DecodeAndValidate(r *http.Request, v *validator.Validate, target any) error {
	if err := DecodeJSON(r, target); err != nil {
		return shared.Invalid("body", err.Error())
	}
	if err := v.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return shared.Invalid(fe.Field(), "failed "+fe.Tag())
		}
		return shared.Invalid("body", err.Error())
	}
	return nil
}
