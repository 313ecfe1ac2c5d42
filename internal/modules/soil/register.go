package soil

import (
	"net/http"

	"github.com/pauricg23/SOIL-TEMP/internal/modules/soil/controller"
	"github.com/pauricg23/SOIL-TEMP/internal/modules/soil/service"
)

// RegisterFeature mounts the soil routes on mux and, when subscriber is not
// nil, feeds broker telemetry into svc.
func RegisterFeature(mux *http.ServeMux, svc *service.Service, subscriber MQTTSubscriber) {
	soilController := controller.NewSoilController(svc)
	soilController.RegisterRoutes(mux)

	if subscriber != nil {
		registerMQTTHandler(subscriber, svc)
	}
}
