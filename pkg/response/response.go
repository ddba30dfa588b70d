package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"
)

// Response represents a standardized API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents an error response
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes
const (
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeInvalidArgument    = "INVALID_ARGUMENT"
	ErrCodeFailedPrecondition = "FAILED_PRECONDITION"
	ErrCodeDeadlineExceeded   = "DEADLINE_EXCEEDED"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeDuplicateResource  = "DUPLICATE_RESOURCE"
	ErrCodeUnavailable        = "UNAVAILABLE"
)

type mapping struct {
	status int
	code   string
}

// statusCodes maps the service error taxonomy onto HTTP
var statusCodes = map[codes.Code]mapping{
	codes.InvalidArgument:    {http.StatusBadRequest, ErrCodeInvalidArgument},
	codes.NotFound:           {http.StatusNotFound, ErrCodeNotFound},
	codes.AlreadyExists:      {http.StatusConflict, ErrCodeDuplicateResource},
	codes.FailedPrecondition: {http.StatusPreconditionFailed, ErrCodeFailedPrecondition},
	// Expired reservation, already removed
	codes.DeadlineExceeded:  {http.StatusGone, ErrCodeDeadlineExceeded},
	codes.ResourceExhausted: {http.StatusTooManyRequests, ErrCodeRateLimited},
	codes.Unavailable:       {http.StatusServiceUnavailable, ErrCodeUnavailable},
	codes.Internal:          {http.StatusInternalServerError, ErrCodeInternalError},
}

// HTTPStatus returns the HTTP status for a service error
func HTTPStatus(err error) int {
	if m, ok := statusCodes[status.Code(err)]; ok {
		return m.status
	}
	return http.StatusInternalServerError
}

// Handle processes the error and returns appropriate response
func Handle(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "Resource not found")
	case errors.Is(err, gorm.ErrDuplicatedKey):
		Conflict(c, "Resource already exists")
	default:
		handleError(c, err)
	}
}

// Success sends a successful response
func Success(c *gin.Context, data interface{}) {
	status := http.StatusOK
	if c.Request.Method == "POST" {
		status = http.StatusCreated
	}

	c.JSON(status, Response{
		Success: true,
		Data:    data,
	})
}

// NotFound sends a 404 response
func NotFound(c *gin.Context, message string) {
	Fail(c, http.StatusNotFound, ErrCodeNotFound, message)
}

// BadRequest sends a 400 response
func BadRequest(c *gin.Context, message string) {
	Fail(c, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// TooManyRequests sends a 429 response
func TooManyRequests(c *gin.Context, message string) {
	Fail(c, http.StatusTooManyRequests, ErrCodeRateLimited, message)
}

// InternalError sends a 500 response
func InternalError(c *gin.Context, message string) {
	Fail(c, http.StatusInternalServerError, ErrCodeInternalError, message)
}

// Conflict sends a 409 response
func Conflict(c *gin.Context, message string) {
	Fail(c, http.StatusConflict, ErrCodeDuplicateResource, message)
}

// Fail sends an error response with an explicit status and code
func Fail(c *gin.Context, httpStatus int, code, message string) {
	c.JSON(httpStatus, Response{
		Success: false,
		Error: &Error{
			Code:    code,
			Message: message,
		},
	})
}

// handleError determines the appropriate error response
func handleError(c *gin.Context, err error) {
	st, ok := status.FromError(err)
	if !ok {
		InternalError(c, "An unexpected error occurred")
		return
	}

	m, known := statusCodes[st.Code()]
	if !known || st.Code() == codes.Internal {
		// Internal details stay in the logs
		InternalError(c, "An unexpected error occurred")
		return
	}

	Fail(c, m.status, m.code, st.Message())
}
