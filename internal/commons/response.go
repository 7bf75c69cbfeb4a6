package commons

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "livraison/internal/errors"
)

const maxBodyBytes = 1 << 20

type ErrorResponse struct {
	TraceID   string                       `json:"traceId"`
	Status    int                          `json:"status"`
	Code      string                       `json:"code"`
	Message   string                       `json:"message"`
	Details   []apperrors.ValidationDetail `json:"details,omitempty"`
	Timestamp time.Time                    `json:"timestamp"`
}

type traceKey struct{}

// TraceLogger tags the request with a fresh trace id and returns a child
// logger carrying it.
func TraceLogger(r *http.Request, logger *zap.Logger) (*http.Request, string, *zap.Logger) {
	traceID := uuid.New().String()
	ctx := context.WithValue(r.Context(), traceKey{}, traceID)
	return r.WithContext(ctx), traceID, logger.With(zap.String("traceId", traceID))
}

func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

func WriteJSON(w http.ResponseWriter, logger *zap.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", zap.Error(err))
	}
}

func WriteValidationError(w http.ResponseWriter, logger *zap.Logger, traceID, message string, details ...apperrors.ValidationDetail) {
	WriteJSON(w, logger, http.StatusBadRequest, ErrorResponse{
		TraceID:   traceID,
		Status:    http.StatusBadRequest,
		Code:      "VALIDATION_ERROR",
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
	})
}

// WriteError maps a use case error to its HTTP status. Unknown errors are
// logged and hidden behind a generic message.
func WriteError(w http.ResponseWriter, logger *zap.Logger, traceID string, err error) {
	status, code, message := http.StatusInternalServerError, "INTERNAL_ERROR", "an unexpected error occurred"
	var details []apperrors.ValidationDetail

	if ve, ok := apperrors.IsValidationError(err); ok {
		status, code, message, details = http.StatusBadRequest, "VALIDATION_ERROR", ve.Message, ve.Details
	} else if ite, ok := apperrors.IsInvalidTransitionError(err); ok {
		status, code, message = http.StatusConflict, "INVALID_TRANSITION", ite.Message
	} else if ue, ok := apperrors.IsUnauthorizedError(err); ok {
		status, code, message = http.StatusForbidden, "FORBIDDEN", ue.Message
	} else if nfe, ok := apperrors.IsNotFoundError(err); ok {
		status, code, message = http.StatusNotFound, "NOT_FOUND", nfe.Message
	} else if cme, ok := apperrors.IsConcurrentModificationError(err); ok {
		status, code, message = http.StatusConflict, "CONCURRENT_MODIFICATION", cme.Message
	} else if upe, ok := apperrors.IsUpstreamError(err); ok {
		logger.Error("upstream failure", zap.String("collaborator", upe.Collaborator), zap.Error(err))
		status, code, message = http.StatusBadGateway, "UPSTREAM_ERROR", upe.Collaborator+" is unavailable"
	} else {
		logger.Error("unexpected error", zap.Error(err))
	}

	WriteJSON(w, logger, status, ErrorResponse{
		TraceID:   traceID,
		Status:    status,
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
	})
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	return v
}

// DecodeJSON reads a JSON body into dst and runs its validate tags. An empty
// body is accepted when allowEmpty is set, for commands whose payload is
// optional.
func DecodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	if r.Body != nil {
		decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(dst); err != nil {
			if !(errors.Is(err, io.EOF) && allowEmpty) {
				return apperrors.NewValidationError("invalid JSON body", apperrors.ValidationDetail{
					Field:   "body",
					Message: "request body must be valid JSON",
				})
			}
		}
	} else if !allowEmpty {
		return apperrors.NewValidationError("invalid JSON body", apperrors.ValidationDetail{
			Field:   "body",
			Message: "request body is required",
		})
	}
	return ValidateStruct(dst)
}

func ValidateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make([]apperrors.ValidationDetail, 0, len(verrs))
			for _, fe := range verrs {
				details = append(details, apperrors.ValidationDetail{
					Field:   fieldPath(fe),
					Message: validationMessage(fe),
				})
			}
			return apperrors.NewValidationError("validation failed", details...)
		}
		return apperrors.NewValidationError(err.Error())
	}
	return nil
}

// fieldPath drops the root struct name: "CreateOrderRequest.items[0].quantity"
// becomes "items[0].quantity".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
		}
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must contain at least %s elements", fe.Field(), fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
		}
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must contain at most %s elements", fe.Field(), fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", fe.Field(), fe.Param())
	case "latitude", "longitude":
		return fmt.Sprintf("%s must be a valid %s", fe.Field(), fe.Tag())
	case "uuid":
		return fmt.Sprintf("%s must be a valid uuid", fe.Field())
	case "len":
		return fmt.Sprintf("%s must have length %s", fe.Field(), fe.Param())
	case "numeric":
		return fmt.Sprintf("%s must be numeric", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
