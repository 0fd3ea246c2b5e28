package lifecycle

// SigningIdentity is one code-signing team discovered from Xcode's account
// preferences.
type SigningIdentity struct {
	TeamID   string `json:"team_id"`
	TeamName string `json:"team_name"`
	TeamType string `json:"team_type"`
}

// SetupKind distinguishes the three possible outcomes of Setup — the third,
// NeedsIdentitySelection, is a normal 200-level outcome, not an error
// (spec §7).
type SetupKind int

const (
	SetupOK SetupKind = iota
	SetupNeedsIdentitySelection
)

// SetupStatus is Setup's result. When Kind is SetupNeedsIdentitySelection,
// only Identities is meaningful.
type SetupStatus struct {
	Kind       SetupKind
	UDID       string
	TeamID     string
	Cloned     bool
	Built      bool
	Installed  bool
	Identities []SigningIdentity
}

// StartKind distinguishes Start's outcomes.
type StartKind int

const (
	StartStarted StartKind = iota
	StartAlreadyRunning
)

// StartStatus is Start's result.
type StartStatus struct {
	Kind  StartKind
	UDID  string
	PID   int
	Ready bool
}

// StopKind distinguishes Stop's outcomes.
type StopKind int

const (
	StopStopped StopKind = iota
	StopNotRunning
)

// StopStatus is Stop's result.
type StopStatus struct {
	Kind StopKind
	UDID string
}
