package outbox

// Appointment lifecycle event types. The Kafka topic name equals the event
// type; downstream consumers (notification delivery, analytics) subscribe per
// topic.
const (
	EventAppointmentCreated = "calendar.appointment.created.v1"
	EventAppointmentPaid    = "calendar.appointment.paid.v1"
	EventAppointmentUpdated = "calendar.appointment.updated.v1"
	EventAppointmentDeleted = "calendar.appointment.deleted.v1"
	EventAppointmentPurged  = "calendar.appointment.purged.v1"
)

// Event is the domain event envelope written to the outbox table inside the
// same transaction as the state change it describes.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}
