package conversation

// Role identifies the author of a message in the trajectory.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Requestor identifies which participant issued a tool call.
type Requestor string

const (
	RequestorAssistant Requestor = "assistant"
	RequestorUser      Requestor = "user"
)

// Party is one side of the conversation that can receive and produce messages.
type Party string

const (
	PartyAgent Party = "agent"
	PartyUser  Party = "user"
	PartyEnv   Party = "env"
)

func (p Party) String() string {
	if p == "" {
		return "none"
	}
	return string(p)
}

// requestorParty maps a tool requestor back to the party that issued the call.
func requestorParty(requestor Requestor) (Party, bool) {
	switch requestor {
	case RequestorAssistant:
		return PartyAgent, true
	case RequestorUser:
		return PartyUser, true
	default:
		return "", false
	}
}

func (r Role) requestor() (Requestor, bool) {
	switch r {
	case RoleAssistant:
		return RequestorAssistant, true
	case RoleUser:
		return RequestorUser, true
	default:
		return "", false
	}
}
