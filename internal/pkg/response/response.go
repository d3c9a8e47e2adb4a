package response

import (
	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/webapi/proxyutil"

	"github.com/xxxsen/lectio/internal/pkg/errcode"
)

// apiError satisfies the coded error proxyutil renders into the envelope.
type apiError struct {
	code errcode.Code
	msg  string
}

func (e apiError) Error() string {
	return e.msg
}

func (e apiError) Code() uint32 {
	return uint32(e.code)
}

func Success(c *gin.Context, data interface{}) {
	proxyutil.SuccessJson(c, data)
}

// Error writes a failed envelope. Failures keep HTTP 200 and are told apart
// by code.
func Error(c *gin.Context, code errcode.Code, message string) {
	proxyutil.FailJson(c, 200, apiError{code: code, msg: message})
}

// Abort writes a failed envelope and stops the handler chain.
func Abort(c *gin.Context, code errcode.Code, message string) {
	Error(c, code, message)
	c.Abort()
}
