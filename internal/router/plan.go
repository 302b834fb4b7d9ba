package router

// Scope selects which connections receive a delivery.
type Scope int

const (
	// Everyone in the room except the connection that sent the event
	ScopeOthers Scope = iota
	// Everyone in the room, sender included
	ScopeRoom
	// Only the sending connection
	ScopeSender
)

func (s Scope) String() string {
	switch s {
	case ScopeOthers:
		return "others"
	case ScopeRoom:
		return "room"
	case ScopeSender:
		return "sender"
	default:
		return "unknown"
	}
}

type Delivery struct {
	Scope   Scope
	RoomID  string
	Event   string
	Payload any
}

// Plan is what the transport must do after an event was handled.
// Leave is applied first, then Join, then Deliveries in order.
type Plan struct {
	// Room whose broadcast group the sender leaves
	Leave string
	// Room whose broadcast group the sender joins
	Join       string
	Deliveries []Delivery
}

func (p Plan) Empty() bool {
	return p.Leave == "" && p.Join == "" && len(p.Deliveries) == 0
}

func (p *Plan) add(scope Scope, roomID, event string, payload any) {
	p.Deliveries = append(p.Deliveries, Delivery{
		Scope:   scope,
		RoomID:  roomID,
		Event:   event,
		Payload: payload,
	})
}

// Prepends the side effects of other, used when a re-join first leaves
func (p *Plan) after(other Plan) {
	p.Leave = other.Leave
	p.Deliveries = append(other.Deliveries, p.Deliveries...)
}
