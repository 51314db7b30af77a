package internel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plugintx/pkg"
)

func TestRegistryCenter(t *testing.T) {
	t.Run("重复注册被拒绝", func(t *testing.T) {
		rc := NewRegistryCenter()
		require.NoError(t, rc.Register(NewMemParticipant("A")))
		assert.ErrorIs(t, rc.Register(NewMemParticipant("A")), pkg.ErrParticipantExists)
	})

	t.Run("注销后不可再取", func(t *testing.T) {
		rc := NewRegistryCenter()
		require.NoError(t, rc.Register(NewMemParticipant("A")))
		require.NoError(t, rc.Unregister("A"))

		_, err := rc.GetParticipant("A")
		assert.ErrorIs(t, err, pkg.ErrParticipantNotFound)
		assert.ErrorIs(t, rc.Unregister("A"), pkg.ErrParticipantNotFound)
	})

	t.Run("批量取参与者保持入参顺序", func(t *testing.T) {
		rc := NewRegistryCenter()
		require.NoError(t, rc.Register(NewMemParticipant("A")))
		require.NoError(t, rc.Register(NewMemParticipant("B")))

		participants, err := rc.GetParticipantsByIDs("B", "A")
		require.NoError(t, err)
		require.Len(t, participants, 2)
		assert.Equal(t, "B", participants[0].ID())
		assert.Equal(t, "A", participants[1].ID())
	})

	t.Run("任何一个缺失整体失败", func(t *testing.T) {
		rc := NewRegistryCenter()
		require.NoError(t, rc.Register(NewMemParticipant("A")))

		_, err := rc.GetParticipantsByIDs("A", "Z")
		assert.ErrorIs(t, err, pkg.ErrParticipantNotFound)
	})
}
