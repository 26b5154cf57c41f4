package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	oapimiddleware "github.com/oapi-codegen/nethttp-middleware"
	"go.uber.org/zap"

	platformauth "github.com/zenGate-Global/bizdesk/platform/go/auth"
	"github.com/zenGate-Global/bizdesk/platform/go/httpx"
)

// ValidateAuthenticationViaSwagger satisfies operations that declare bearerAuth: the principal
// middleware must already have resolved a caller for the request.
func ValidateAuthenticationViaSwagger(ctx context.Context, input *openapi3filter.AuthenticationInput) error {
	if input == nil || input.SecuritySchemeName != "bearerAuth" {
		return nil
	}
	r := input.RequestValidationInput.Request
	if r == nil {
		return errors.New("no request in validation input")
	}
	if _, ok := platformauth.PrincipalFromContext(r.Context()); !ok {
		return errors.New("missing or invalid bearer token")
	}
	return nil
}

// SpecValidator validates requests against the OpenAPI document and answers failures with
// the standard error body. The detailed validator message is logged, never returned.
func SpecValidator(spec *openapi3.T, logger *zap.Logger) func(http.Handler) http.Handler {
	if spec == nil {
		panic("spec validator: spec is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return oapimiddleware.OapiRequestValidatorWithOptions(spec, &oapimiddleware.Options{
		SilenceServersWarning: true,
		Options: openapi3filter.Options{
			AuthenticationFunc: ValidateAuthenticationViaSwagger,
		},
		ErrorHandler: func(w http.ResponseWriter, message string, statusCode int) {
			problem := problemForValidation(message, statusCode)
			logger.Info("request rejected by contract", zap.Int("status", statusCode), zap.String("detail", message))
			httpx.WriteProblem(w, problem)
		},
	})
}

func problemForValidation(message string, statusCode int) httpx.Problem {
	switch statusCode {
	case http.StatusUnauthorized:
		return httpx.Unauthenticated()
	case http.StatusForbidden:
		return httpx.Forbidden()
	case http.StatusNotFound:
		return httpx.NotFound("")
	case http.StatusMethodNotAllowed:
		return httpx.NewProblem(http.StatusMethodNotAllowed, "method_not_allowed", "Método no permitido.")
	case http.StatusBadRequest:
		return httpx.Validation(map[string][]string{"request": {message}})
	default:
		if statusCode >= 500 {
			return httpx.Internal()
		}
		return httpx.NewProblem(statusCode, httpx.CodeValidation, httpx.MsgValidation)
	}
}
