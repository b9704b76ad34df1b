package agent

// EventName is the SSE event type of a relay event
type EventName string

// Relay events in the order a stream emits them
const (
	EventReceived      EventName = "received"
	EventLLMStart      EventName = "llm_start"
	EventRoutePlanned  EventName = "route_planned"
	EventFetchProgress EventName = "fetch_progress"
	EventJoined        EventName = "joined"
	EventToken         EventName = "token"
	EventDone          EventName = "done"
)

// Stage markers carried by llm_start, and the done payload
const (
	StagePlan   = "plan"
	StageAnswer = "answer"
	DoneData    = "done"
)

// Event is one step of a chat stream. ID is the same for every event of a
// request.
type Event struct {
	Name EventName
	ID   string
	Data string
}

type fetchProgress struct {
	Endpoint string `json:"endpoint"`
	Status   string `json:"status"`
}
