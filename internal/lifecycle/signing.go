package lifecycle

import (
	"os"
	"path/filepath"

	"howett.net/plist"
)

// xcodePrefsRelPath is relative to the user's home directory.
const xcodePrefsRelPath = "Library/Preferences/com.apple.dt.Xcode.plist"

// xcodePrefsPath is overridable for tests.
var xcodePrefsPath = func() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, xcodePrefsRelPath)
}

// teamPrefsEntry mirrors one element of the per-account team array in
// IDEProvisioningTeamByIdentifier.
type teamPrefsEntry struct {
	TeamID   string `plist:"teamID"`
	TeamName string `plist:"teamName"`
	TeamType string `plist:"teamType"`
}

type xcodePrefs struct {
	TeamsByAccount map[string][]teamPrefsEntry `plist:"IDEProvisioningTeamByIdentifier"`
}

// discoverSigningIdentities reads provisioning teams from Xcode's account
// preferences plist, per §4.1 step 1. A missing or unreadable file yields
// an empty list rather than an error — the caller (Setup) turns that into
// the NO_TEAMS outcome.
func discoverSigningIdentities() []SigningIdentity {
	path := xcodePrefsPath()
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path) //#nosec G304 -- fixed Xcode preferences path
	if err != nil {
		return nil
	}

	var prefs xcodePrefs
	if _, err := plist.Unmarshal(data, &prefs); err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var identities []SigningIdentity
	for _, teams := range prefs.TeamsByAccount {
		for _, t := range teams {
			if t.TeamID == "" || seen[t.TeamID] {
				continue
			}
			seen[t.TeamID] = true
			identities = append(identities, SigningIdentity{
				TeamID:   t.TeamID,
				TeamName: t.TeamName,
				TeamType: t.TeamType,
			})
		}
	}
	return identities
}

// resolveTeamID implements §4.1 step 2's precedence: caller-supplied team
// (validated against the discovered set), else the state store's
// last-used team if it's still valid, else the sole available team, else
// NEEDS_IDENTITY_SELECTION (ok=false).
func resolveTeamID(requested, savedTeam string, identities []SigningIdentity) (teamID string, ok bool) {
	valid := make(map[string]bool, len(identities))
	for _, i := range identities {
		valid[i.TeamID] = true
	}

	if requested != "" {
		return requested, valid[requested]
	}
	if savedTeam != "" && valid[savedTeam] {
		return savedTeam, true
	}
	if len(identities) == 1 {
		return identities[0].TeamID, true
	}
	return "", false
}
