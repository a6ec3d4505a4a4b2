package parking

// Operation names, one request and one reply destination each.
const (
	OpSpaceByID          = "space-by-id"
	OpNextAvailable      = "next-available"
	OpSpacesQuery        = "spaces-query"
	OpParkingStart       = "parking-start"
	OpParkingByID        = "parking-by-id"
	OpParkingCompletion  = "parking-completion"
	OpBillingCalculation = "billing-calculation"
)

// Operations lists every operation the system serves.
var Operations = []string{
	OpSpaceByID,
	OpNextAvailable,
	OpSpacesQuery,
	OpParkingStart,
	OpParkingByID,
	OpParkingCompletion,
	OpBillingCalculation,
}

const DefaultPrefix = "parking"

// Destinations names request and reply destinations as <prefix>.request.<op> and <prefix>.reply.<op>.
type Destinations struct {
	Prefix string
}

func NewDestinations(prefix string) Destinations {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return Destinations{Prefix: prefix}
}

func (d Destinations) Request(op string) string { return d.Prefix + ".request." + op }

func (d Destinations) Reply(op string) string { return d.Prefix + ".reply." + op }

// Routes maps every request destination to its reply destination.
func (d Destinations) Routes() map[string]string {
	routes := make(map[string]string, len(Operations))
	for _, op := range Operations {
		routes[d.Request(op)] = d.Reply(op)
	}

	return routes
}
