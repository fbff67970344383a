package httpapi

import "github.com/gin-gonic/gin"

// Register wires the call endpoints. authMW guards the participant-only
// read endpoints; initiate and updateCallStatus carry the identity token in
// the body and are verified by the service.
func Register(r *gin.Engine, h Handlers, authMW gin.HandlerFunc) {
	r.Use(CORS())

	r.GET("/healthz", Healthz)

	r.POST("/initiateCall", h.InitiateCall)
	r.POST("/terminateCall", h.TerminateCall)
	r.POST("/updateCallStatus", h.UpdateCallStatus)

	calls := r.Group("/calls")
	calls.Use(authMW)
	{
		calls.GET("/:dealId", h.GetCall)
		calls.GET("/:dealId/stream", h.StreamCall)
	}
}
