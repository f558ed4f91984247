package slowmode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"support-chat/internal/models"
)

func TestCheckMemberWithinInterval(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	d := Check(10*time.Second, models.RoleMember, t0, t0.Add(5*time.Second))
	require.False(t, d.Allowed)
	require.Equal(t, 5*time.Second, d.Remaining)
}

func TestCheckInclusiveBoundary(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	d := Check(10*time.Second, models.RoleMember, t0, t0.Add(10*time.Second))
	require.True(t, d.Allowed)
	require.Zero(t, d.Remaining)
}

func TestCheckDisabledInterval(t *testing.T) {
	t0 := time.Now()
	require.True(t, Check(0, models.RoleMember, t0, t0).Allowed)
}

func TestCheckFirstMessage(t *testing.T) {
	require.True(t, Check(time.Minute, models.RoleMember, time.Time{}, time.Now()).Allowed)
}

func TestCheckPrivilegedRolesBypass(t *testing.T) {
	t0 := time.Now()
	for _, role := range []models.Role{models.RoleModerator, models.RoleOwner} {
		for _, interval := range []time.Duration{time.Second, time.Hour} {
			d := Check(interval, role, t0, t0)
			require.True(t, d.Allowed, "role %s interval %s", role, interval)
		}
	}
}

func TestCheckScenario(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	interval := 10 * time.Second

	var last time.Time
	require.True(t, Check(interval, models.RoleMember, last, t0).Allowed)
	last = t0

	rejected := Check(interval, models.RoleMember, last, t0.Add(5*time.Second))
	require.False(t, rejected.Allowed)
	require.InDelta(t, 5, rejected.Remaining.Seconds(), 0.001)

	require.True(t, Check(interval, models.RoleMember, last, t0.Add(10*time.Second)).Allowed)
}
