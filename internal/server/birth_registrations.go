package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	applicationdomain "github.com/isabella232/smartstart-sub000/internal/application/domain"
	submissiondomain "github.com/isabella232/smartstart-sub000/internal/submission/domain"
)

func (s *Server) CreateBirthRegistration(c *gin.Context) {
	var sub applicationdomain.Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		AbortWithError(c, submissiondomain.ErrInvalidSubmission)
		return
	}

	result, err := s.submissionSvc.Submit(c.Request.Context(), submissiondomain.SubmitRequest{
		Submission: sub,
		Source:     c.Request.Referer(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// PaymentWebhook is the gateway's asynchronous result callback. The
// browser arrives here mid-redirect, so every resolved outcome answers
// with a 301 to a confirmation page, never a JSON error.
func (s *Server) PaymentWebhook(c *gin.Context) {
	referenceCode := c.Param("referenceCode")
	outcome := c.Param("outcome")
	resultToken := c.Query("result")

	resolution, err := s.reconcileSvc.Reconcile(c.Request.Context(), referenceCode, outcome, resultToken)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Redirect(http.StatusMovedPermanently, resolution.RedirectURL)
}

func (s *Server) RetryPayment(c *gin.Context) {
	referenceCode := c.Param("referenceCode")

	result, err := s.reconcileSvc.RetryPayment(c.Request.Context(), referenceCode)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if result.AlreadyProcessed {
		c.JSON(http.StatusOK, gin.H{"redirectURL": result.RedirectURL})
		return
	}
	c.JSON(http.StatusOK, gin.H{"paymentURL": result.PaymentURL})
}
