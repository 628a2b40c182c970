package datasource

import (
	"strconv"

	"fare-observer/src/models"

	"github.com/cespare/xxhash/v2"
)

const idMask = 1<<63 - 1

// ObservationID derives a stable positive id from the fields that identify a
// quote: route, airline, collection instant and departure instant. Readers
// that carry no id of their own use it, so independent sources and repeated
// imports share one id space.
func ObservationID(obs models.MPriceObservation) int64 {
	d := xxhash.New()
	d.WriteString(obs.Origin)
	d.WriteString("|")
	d.WriteString(obs.Destination)
	d.WriteString("|")
	d.WriteString(obs.Airline)
	d.WriteString("|")
	d.WriteString(strconv.FormatInt(obs.CollectedAt.UnixNano(), 10))
	d.WriteString("|")
	d.WriteString(strconv.FormatInt(obs.DepartureAt.UnixNano(), 10))

	id := int64(d.Sum64() & idMask)
	if id == 0 {
		id = 1
	}
	return id
}
