// Package events holds the catalog of realtime event names, the routing
// table the hub relays them by, and the wire payloads shared by server and agent.
package events

// Presence and connection control.
const (
	Identify    = "identify"
	UsersOnline = "users:online"
)

// Break lifecycle.
const (
	BreakStart   = "break:start"
	BreakPause   = "break:pause"
	BreakResume  = "break:resume"
	BreakEnd     = "break:end"
	BreakStarted = "break:started"
	BreakPaused  = "break:paused"
	BreakResumed = "break:resumed"
	BreakEnded   = "break:ended"

	// BreakAutoStartTrigger is emitted by the scheduler only.
	BreakAutoStartTrigger = "break:auto-start-trigger"
)

// Attendance clock.
const (
	TimeClockIn         = "time:clockin"
	TimeClockOut        = "time:clockout"
	TimeDataUpdate      = "time:data-update"
	TimeClockedIn       = "time:clockedin"
	TimeClockedOut      = "time:clockedout"
	TimeDataUpdated     = "time:data-updated"
	LeaderboardUpdate   = "leaderboard:update"
	LeaderboardUpdated  = "leaderboard:updated"
	NotificationSend    = "notification:send"
	NotificationReceive = "notification:received"
)

// Call signaling.
const (
	CallInvite   = "call:invite"
	CallAccept   = "call:accept"
	CallReject   = "call:reject"
	CallIncoming = "call:incoming"
	CallAccepted = "call:accepted"
	CallRejected = "call:rejected"
)

// Monitoring topic.
const (
	MonitoringTopic             = "monitoring"
	MonitoringSubscribe         = "monitoring:subscribe"
	MonitoringUnsubscribe       = "monitoring:unsubscribe"
	MonitoringForceRefresh      = "monitoring:force-refresh"
	MonitoringRefreshRequested  = "monitoring:refresh-requested"
	MonitoringPerformanceUpdate = "monitoring:performance-update"
)

// Mode is how a relayed event is addressed.
type Mode int

const (
	// ModeGlobal delivers to every connected client.
	ModeGlobal Mode = iota
	// ModeWorker delivers to the channel of the worker named by Route.TargetField.
	ModeWorker
	// ModeWorkerOrGlobal addresses the worker when Route.TargetField is present, else everyone.
	ModeWorkerOrGlobal
	// ModeTopic delivers to the subscribers of Route.Topic.
	ModeTopic
	// ModeControl events change hub state and are never relayed as-is.
	ModeControl
)

func (m Mode) String() string {
	switch m {
	case ModeGlobal:
		return "global"
	case ModeWorker:
		return "worker"
	case ModeWorkerOrGlobal:
		return "worker_or_global"
	case ModeTopic:
		return "topic"
	case ModeControl:
		return "control"
	default:
		return "unknown"
	}
}

// Route maps a request event to the event relayed for it.
type Route struct {
	Request     string
	Relayed     string
	Mode        Mode
	TargetField string // payload field naming the addressed worker
	Topic       string
}

// Routes is the relay table. Requests absent from it are dropped by the hub.
var Routes = buildRoutes(
	Route{Request: Identify, Mode: ModeControl},
	Route{Request: MonitoringSubscribe, Mode: ModeControl, Topic: MonitoringTopic},
	Route{Request: MonitoringUnsubscribe, Mode: ModeControl, Topic: MonitoringTopic},

	Route{Request: BreakStart, Relayed: BreakStarted, Mode: ModeGlobal},
	Route{Request: BreakPause, Relayed: BreakPaused, Mode: ModeGlobal},
	Route{Request: BreakResume, Relayed: BreakResumed, Mode: ModeGlobal},
	Route{Request: BreakEnd, Relayed: BreakEnded, Mode: ModeGlobal},

	Route{Request: TimeClockIn, Relayed: TimeClockedIn, Mode: ModeGlobal},
	Route{Request: TimeClockOut, Relayed: TimeClockedOut, Mode: ModeGlobal},
	Route{Request: TimeDataUpdate, Relayed: TimeDataUpdated, Mode: ModeGlobal},

	Route{Request: "task:create", Relayed: "task:created", Mode: ModeGlobal},
	Route{Request: "task:update", Relayed: "task:updated", Mode: ModeGlobal},
	Route{Request: "task:delete", Relayed: "task:deleted", Mode: ModeGlobal},
	Route{Request: "task:comment", Relayed: "task:commented", Mode: ModeGlobal},
	Route{Request: "ticket:create", Relayed: "ticket:created", Mode: ModeGlobal},
	Route{Request: "ticket:update", Relayed: "ticket:updated", Mode: ModeGlobal},
	Route{Request: "ticket:delete", Relayed: "ticket:deleted", Mode: ModeGlobal},
	Route{Request: "ticket:respond", Relayed: "ticket:responded", Mode: ModeGlobal},
	Route{Request: "post:create", Relayed: "post:created", Mode: ModeGlobal},
	Route{Request: "post:update", Relayed: "post:updated", Mode: ModeGlobal},
	Route{Request: "post:delete", Relayed: "post:deleted", Mode: ModeGlobal},
	Route{Request: "post:react", Relayed: "post:reacted", Mode: ModeGlobal},
	Route{Request: "post:comment", Relayed: "post:commented", Mode: ModeGlobal},

	Route{Request: LeaderboardUpdate, Relayed: LeaderboardUpdated, Mode: ModeGlobal},
	Route{Request: NotificationSend, Relayed: NotificationReceive, Mode: ModeWorkerOrGlobal, TargetField: "userId"},

	Route{Request: CallInvite, Relayed: CallIncoming, Mode: ModeWorker, TargetField: "to"},
	Route{Request: CallAccept, Relayed: CallAccepted, Mode: ModeWorker, TargetField: "callerId"},
	Route{Request: CallReject, Relayed: CallRejected, Mode: ModeWorker, TargetField: "callerId"},

	Route{Request: MonitoringForceRefresh, Relayed: MonitoringRefreshRequested, Mode: ModeTopic, Topic: MonitoringTopic},
	Route{Request: MonitoringPerformanceUpdate, Relayed: MonitoringPerformanceUpdate, Mode: ModeTopic, Topic: MonitoringTopic},
)

func buildRoutes(routes ...Route) map[string]Route {
	m := make(map[string]Route, len(routes))
	for _, r := range routes {
		m[r.Request] = r
	}
	return m
}

// Lookup returns the route registered for a request event.
func Lookup(request string) (Route, bool) {
	r, ok := Routes[request]
	return r, ok
}
