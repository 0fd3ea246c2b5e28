package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/devicelab-dev/quern/internal/core"
	"github.com/devicelab-dev/quern/internal/statestore"
)

// Setup implements §4.1 steps 1–7: team discovery and resolution,
// idempotent clone/customize/build, version-routed install, and a final
// state-store write recording what happened.
func (m *Manager) Setup(ctx context.Context, udid, osVersion, teamID string) (SetupStatus, error) {
	identities := discoverSigningIdentities()
	if len(identities) == 0 {
		m.recordSetup("no_teams")
		return SetupStatus{}, core.ErrNoTeams
	}

	savedTeam := m.store.Read().BuildTeamID
	resolved, ok := resolveTeamID(teamID, savedTeam, identities)
	if !ok {
		if teamID != "" {
			m.recordSetup("invalid_team")
			return SetupStatus{}, core.ErrValidation.WithMessage(
				fmt.Sprintf("team_id %q is not among the discovered signing identities", teamID))
		}
		m.recordSetup("needs_identity_selection")
		return SetupStatus{Kind: SetupNeedsIdentitySelection, UDID: udid, Identities: identities}, nil
	}

	cloned, err := m.ensureCloned(ctx)
	if err != nil {
		m.recordSetup("clone_failed")
		return SetupStatus{}, err
	}
	if err := m.store.Update(func(st *statestore.State) { st.Cloned = true }); err != nil {
		m.log.Warn("recording clone state failed", "err", err)
	}

	if _, err := m.customizeProject(); err != nil {
		m.recordSetup("customize_failed")
		return SetupStatus{}, err
	}

	built, err := m.buildForTeam(ctx, resolved)
	if err != nil {
		m.recordSetup("build_failed")
		return SetupStatus{}, err
	}
	if err := m.store.Update(func(st *statestore.State) {
		st.BuildTeamID = resolved
		builtAt := time.Now()
		st.BuiltAt = &builtAt
	}); err != nil {
		m.log.Warn("recording build state failed", "err", err)
	}

	if err := m.installRunner(ctx, udid); err != nil {
		m.recordSetup("install_failed")
		return SetupStatus{}, err
	}

	m.recordSetup("ok")
	return SetupStatus{
		Kind:      SetupOK,
		UDID:      udid,
		TeamID:    resolved,
		Cloned:    cloned,
		Built:     built,
		Installed: true,
	}, nil
}

func (m *Manager) recordSetup(outcome string) {
	if m.metrics != nil {
		m.metrics.LifecycleSetupsTotal.WithLabelValues(outcome).Inc()
	}
}
