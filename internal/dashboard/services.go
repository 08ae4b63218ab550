package dashboard

import (
	"time"

	"github.com/goliatone/go-query-sync/entity"
	"github.com/goliatone/go-query-sync/internal/api"
	"github.com/goliatone/go-query-sync/pkg/di"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// Services holds the cached service of every dashboard entity.
type Services struct {
	Clients      *entity.Cached[*Client]
	Projects     *entity.Cached[*Project]
	Appointments *entity.Cached[*Appointment]
	Invoices     *entity.Cached[*Invoice]
	VoiceAgents  *entity.Cached[*VoiceAgent]
}

// NewServices builds the bun backed services and puts them behind the
// container's cache. When the container has a realtime bridge each service
// also registers the route of its table.
func NewServices(c *di.Container, db *bun.DB) *Services {
	return &Services{
		Clients: di.NewCachedService(c,
			newService(db, ClientHandlers()), TableClients),
		Projects: di.NewCachedService(c,
			newService(db, ProjectHandlers()), TableProjects),
		Appointments: di.NewCachedService(c,
			newService(db, AppointmentHandlers()), TableAppointments,
			entity.WithSearchField[*Appointment]("title"),
			entity.WithFreshness[*Appointment](AppointmentFreshness())),
		Invoices: di.NewCachedService(c,
			newService(db, InvoiceHandlers()), TableInvoices,
			entity.WithSearchField[*Invoice]("number")),
		VoiceAgents: di.NewCachedService(c,
			newService(db, VoiceAgentHandlers()), TableVoiceAgents),
	}
}

// Resources exposes every service over the API.
func (s *Services) Resources() []api.Resource {
	return []api.Resource{
		api.NewResource(s.Clients),
		api.NewResource(s.Projects),
		api.NewResource(s.Appointments),
		api.NewResource(s.Invoices),
		api.NewResource(s.VoiceAgents),
	}
}

// AppointmentFreshness is shorter than the default: the schedule changes
// through the day.
func AppointmentFreshness() entity.Freshness {
	return entity.Freshness{
		List:   2 * time.Minute,
		Detail: 2 * time.Minute,
		Stats:  time.Minute,
		Recent: 2 * time.Minute,
		Search: time.Minute,
	}
}

func newService[T any](db *bun.DB, handlers repository.ModelHandlers[T]) entity.Service[T] {
	repo := repository.NewRepository[T](db, handlers)
	return entity.FromRepository[T](repo, entity.WithIDSetter[T](handlers.SetID))
}
