package apiutil

import (
	"github.com/gin-gonic/gin"

	"github.com/Aidin1998/optigate/common/errors"
)

// ProblemContentType is the media type of RFC 7807 bodies.
const ProblemContentType = "application/problem+json"

// RFC7807ErrorMiddleware renders errors attached with c.Error as RFC 7807
// responses when the handler did not write one itself.
func RFC7807ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last()
		instance := c.Request.URL.Path

		var problemDetails *errors.ProblemDetails
		switch e := err.Err.(type) {
		case *errors.ProblemDetails:
			problemDetails = e
		default:
			problemDetails = ginErrorToProblemDetails(err, instance)
		}
		RFC7807ErrorResponse(c, problemDetails)
		c.Abort()
	}
}

// ginErrorToProblemDetails converts a Gin error to RFC 7807 ProblemDetails
func ginErrorToProblemDetails(err *gin.Error, instance string) *errors.ProblemDetails {
	switch err.Type {
	case gin.ErrorTypeBind:
		return errors.NewValidationError("Request binding failed: "+err.Error(), instance)
	case gin.ErrorTypePublic:
		// Public errors are safe to expose
		return errors.NewValidationError(err.Error(), instance)
	default:
		return errors.NewInternalError("An unexpected error occurred", instance)
	}
}

// RFC7807ErrorResponse writes an RFC 7807 compliant error response
func RFC7807ErrorResponse(c *gin.Context, problemDetails *errors.ProblemDetails) {
	if traceID := GetTraceID(c); traceID != "" {
		problemDetails.WithTraceID(traceID)
	}
	if problemDetails.Instance == "" {
		problemDetails.Instance = c.Request.URL.Path
	}
	c.Header("Content-Type", ProblemContentType)
	c.JSON(problemDetails.Status, problemDetails)
}

// RFC7807ValidationErrorResponse writes a validation error response
func RFC7807ValidationErrorResponse(c *gin.Context, detail string, validationErrors ...errors.ValidationError) {
	problemDetails := errors.NewValidationError(detail, c.Request.URL.Path)
	if len(validationErrors) > 0 {
		problemDetails.WithValidationErrors(validationErrors)
	}
	RFC7807ErrorResponse(c, problemDetails)
}

// RFC7807UnauthorizedResponse writes an unauthorized error response
func RFC7807UnauthorizedResponse(c *gin.Context, detail string) {
	RFC7807ErrorResponse(c, errors.NewUnauthorizedError(detail, c.Request.URL.Path))
}

// RFC7807NotFoundResponse writes a not found error response
func RFC7807NotFoundResponse(c *gin.Context, detail string) {
	RFC7807ErrorResponse(c, errors.NewNotFoundError(detail, c.Request.URL.Path))
}

// RFC7807InternalServerErrorResponse writes an internal server error response
func RFC7807InternalServerErrorResponse(c *gin.Context, detail string) {
	RFC7807ErrorResponse(c, errors.NewInternalError(detail, c.Request.URL.Path))
}
