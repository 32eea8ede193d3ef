package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/nadmax/forecastd/internal/auth"
	"github.com/nadmax/forecastd/internal/httputil"
	"github.com/nadmax/forecastd/internal/policy"
)

const subjectKey = "subject"

// Authenticate resolves the Authorization header into a policy.Subject and
// stores it on the context. It never rejects a request; use Require for
// that.
func Authenticate(tokens *auth.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := policy.Anonymous()
		if header := c.GetHeader("Authorization"); header != "" {
			claims, err := tokens.Authenticate(header)
			if err != nil {
				subject = policy.Subject{Err: err}
			} else {
				subject = policy.FromClaims(claims)
			}
		}
		c.Set(subjectKey, subject)
		c.Next()
	}
}

// Require aborts the request unless the subject satisfies p.
func Require(p policy.Policy) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := policy.Check(SubjectFrom(c), p); err != nil {
			httputil.Error(c, err)
			return
		}
		c.Next()
	}
}

func SubjectFrom(c *gin.Context) policy.Subject {
	if v, ok := c.Get(subjectKey); ok {
		if s, ok := v.(policy.Subject); ok {
			return s
		}
	}
	return policy.Anonymous()
}
