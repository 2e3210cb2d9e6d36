// README: API gateway; registers HTTP routes and delegates to driver sessions.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"courier/internal/http/handlers"
	"courier/internal/http/middleware"
	"courier/internal/modules/delivery"
)

type ServerDeps struct {
	Sessions *delivery.Registry
	Gatherer prometheus.Gatherer // optional; /metrics is not served without it
}

type Server struct {
	sessions *delivery.Registry
	gatherer prometheus.Gatherer
}

func NewServer(deps ServerDeps) *Server {
	return &Server{
		sessions: deps.Sessions,
		gatherer: deps.Gatherer,
	}
}

func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.Use(middleware.Recovery(), middleware.Logging())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	driver := r.Group("/api/driver", middleware.Identity())

	deliveryHandler := handlers.NewDeliveryHandler(s.sessions)
	driver.POST("/session/focus", deliveryHandler.Focus)
	driver.POST("/session/blur", deliveryHandler.Blur)

	active := driver.Group("/active-order")
	active.GET("", deliveryHandler.Active)
	active.POST("/refresh", deliveryHandler.Refresh)
	active.POST("/heading-to-merchant", deliveryHandler.HeadingToMerchant)
	active.POST("/picked-up", deliveryHandler.PickedUp)
	active.POST("/heading-to-customer", deliveryHandler.HeadingToCustomer)
	active.POST("/navigation/confirm", deliveryHandler.ConfirmNavigation)
	active.POST("/navigation/dismiss", deliveryHandler.DismissNavigation)
	active.POST("/navigate", deliveryHandler.Navigate)
	active.POST("/completion", deliveryHandler.RequestCompletion)
	active.POST("/completion/:id/confirm", deliveryHandler.ConfirmCompletion)
	active.DELETE("/completion/:id", deliveryHandler.ReleaseCompletion)
	active.POST("/cancel", deliveryHandler.Cancel)

	locationHandler := handlers.NewLocationHandler(s.sessions)
	driver.POST("/location/permission", locationHandler.Permission)
	driver.POST("/location/fix", locationHandler.Fix)

	return r
}
