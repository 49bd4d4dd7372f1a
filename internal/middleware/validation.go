package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/temcen/homerec/internal/validation"
)

// MaxLimit caps the limit query parameter.
const MaxLimit = 100

// Strategies accepted by the strategy query parameter.
var Strategies = []string{"guess", "preference", "cf", "also_viewed"}

// ValidatedBodyKey holds the decoded request body after schema validation.
const ValidatedBodyKey = "validatedBody"

type ValidationMiddleware struct {
	validator *validation.SchemaValidator
}

func NewValidationMiddleware(validator *validation.SchemaValidator) *ValidationMiddleware {
	return &ValidationMiddleware{
		validator: validator,
	}
}

// ValidatePassTrigger checks the body of a pass trigger request.
func (vm *ValidationMiddleware) ValidatePassTrigger() gin.HandlerFunc {
	return vm.validateRequestBody(vm.validator.ValidatePassTrigger)
}

func (vm *ValidationMiddleware) validateRequestBody(validate func(interface{}) *validation.ValidationResult) gin.HandlerFunc {
	return func(c *gin.Context) {
		bodyBytes, err := io.ReadAll(c.Request.Body)
		if err != nil {
			sendValidationError(c, "BODY_READ_ERROR", "Failed to read request body")
			return
		}
		// restore for downstream handlers
		c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

		if len(bodyBytes) == 0 {
			sendValidationError(c, "EMPTY_BODY", "Request body is required")
			return
		}

		var body map[string]interface{}
		if err := json.Unmarshal(bodyBytes, &body); err != nil {
			sendValidationError(c, "INVALID_JSON", "Request body must be a JSON object")
			return
		}

		if result := validate(bodyBytes); !result.Valid {
			c.JSON(http.StatusBadRequest, result.ToAPIError())
			c.Abort()
			return
		}

		c.Set(ValidatedBodyKey, body)
		c.Next()
	}
}

// ValidateQueryParams checks limit, strategy and the id path parameters.
func (vm *ValidationMiddleware) ValidateQueryParams() gin.HandlerFunc {
	return func(c *gin.Context) {
		errs := make([]validation.ValidationError, 0)

		if limit := c.Query("limit"); limit != "" {
			if n, err := strconv.Atoi(limit); err != nil || n < 1 || n > MaxLimit {
				errs = append(errs, validation.ValidationError{
					Field:   "limit",
					Message: fmt.Sprintf("Limit must be an integer between 1 and %d", MaxLimit),
					Code:    "INVALID_QUERY_PARAM",
					Value:   limit,
				})
			}
		}

		if strategy := c.Query("strategy"); strategy != "" && !isValidEnum(strategy, Strategies) {
			errs = append(errs, validation.ValidationError{
				Field:   "strategy",
				Message: fmt.Sprintf("Strategy must be one of: %s", strings.Join(Strategies, ", ")),
				Code:    "INVALID_QUERY_PARAM",
				Value:   strategy,
			})
		}

		for _, name := range []string{"userId", "otherUserId", "propertyId"} {
			if value := c.Param(name); value != "" && !isValidID(value) {
				errs = append(errs, validation.ValidationError{
					Field:   name,
					Message: "ID must be a positive integer",
					Code:    "INVALID_PATH_PARAM",
					Value:   value,
				})
			}
		}

		if jobID := c.Param("jobId"); jobID != "" {
			if _, err := uuid.Parse(jobID); err != nil {
				errs = append(errs, validation.ValidationError{
					Field:   "jobId",
					Message: "Job ID must be a valid UUID",
					Code:    "INVALID_PATH_PARAM",
					Value:   jobID,
				})
			}
		}

		if len(errs) > 0 {
			result := &validation.ValidationResult{Valid: false, Errors: errs}
			c.JSON(http.StatusBadRequest, result.ToAPIError())
			c.Abort()
			return
		}

		c.Next()
	}
}

func isValidID(value string) bool {
	id, err := strconv.ParseInt(value, 10, 64)
	return err == nil && id > 0
}

func isValidEnum(value string, validValues []string) bool {
	for _, valid := range validValues {
		if value == valid {
			return true
		}
	}
	return false
}

func sendValidationError(c *gin.Context, code, message string) {
	abort(c, http.StatusBadRequest, code, message)
}
