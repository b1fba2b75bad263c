package protocol

// HELLO (planner -> executor)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	ClientName      string            `json:"client_name"`
	Capabilities    HelloCapabilities `json:"capabilities"`
	Auth            *HelloAuth        `json:"auth,omitempty"`
}

type HelloCapabilities struct {
	// MaxQueue is how many FILL messages the planner may have in flight.
	MaxQueue    int  `json:"max_queue,omitempty"`
	AckRequired bool `json:"ack_required,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// WELCOME (executor -> planner)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	// FillCap is the largest volume one FILL may cover. Zero means the
	// planner default.
	FillCap    int      `json:"fill_cap,omitempty"`
	MaxQueue   int      `json:"max_queue,omitempty"`
	Materials  []string `json:"materials,omitempty"`
	ServerTime int64    `json:"server_time_ms,omitempty"`
}

// FILL (planner -> executor): one box of a single material. Command carries
// the equivalent chat command for executors that relay it verbatim.
type FillMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
	Min             [3]int `json:"min"`
	Max             [3]int `json:"max"`
	Material        string `json:"material"`
	Command         string `json:"command,omitempty"`
}

type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
}
