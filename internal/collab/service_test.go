package collab_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/slidewire/slidewire/internal/collab"
	"github.com/slidewire/slidewire/internal/domain"
	"github.com/slidewire/slidewire/internal/errors"
	"github.com/slidewire/slidewire/internal/protocol"
)

func makeService(opts ...options) *collab.Service {
	c := collab.Config{}
	for _, opt := range opts {
		opt(&c)
	}
	return collab.New(c)
}

type options func(c *collab.Config)

func withNow(fn func() time.Time) options {
	return func(c *collab.Config) {
		c.NowFunc = fn
	}
}

func TestService_Join(t *testing.T) {
	s := makeService()

	owner, all, err := s.Join("doc-1", "u1", "Ana")
	require.NoError(t, err)
	require.Equal(t, domain.RoleOwner, owner.Role, "the first joiner owns the document")
	require.Len(t, all, 1)

	editor, all, err := s.Join("doc-1", "u2", "Ben")
	require.NoError(t, err)
	require.Equal(t, domain.RoleEditor, editor.Role)
	require.Len(t, all, 2)

	require.NotEqual(t, owner.Color, editor.Color, "colors follow join order")

	// re-joining is idempotent: same role, same color, no duplicate entry
	again, all, err := s.Join("doc-1", "u1", "Ana")
	require.NoError(t, err)
	require.Equal(t, owner.Role, again.Role)
	require.Equal(t, owner.Color, again.Color)
	require.Len(t, all, 2)

	_, _, err = s.Join("", "u1", "Ana")
	require.True(t, errors.IsCode(err, errors.CodeInvalidArgument))
	_, _, err = s.Join("doc-1", "", "Ana")
	require.True(t, errors.IsCode(err, errors.CodeInvalidArgument))
}

func TestService_Leave(t *testing.T) {
	s := makeService()

	_, _, err := s.Join("doc-1", "u1", "Ana")
	require.NoError(t, err)
	_, _, err = s.Join("doc-1", "u2", "Ben")
	require.NoError(t, err)
	require.Equal(t, 1, s.Rooms())

	left, ok := s.Leave("doc-1", "u1")
	require.True(t, ok)
	require.Equal(t, "u1", left.UserID)

	_, ok = s.Leave("doc-1", "u1")
	require.False(t, ok, "leaving twice is a no-op")

	_, ok = s.Leave("doc-1", "u2")
	require.True(t, ok)
	require.Equal(t, 0, s.Rooms(), "the last leaver discards the room")

	// a fresh room starts over: the next joiner owns it
	next, _, err := s.Join("doc-1", "u3", "Cleo")
	require.NoError(t, err)
	require.Equal(t, domain.RoleOwner, next.Role)
}

func TestService_MoveCursor(t *testing.T) {
	s := makeService()

	joined, _, err := s.Join("doc-1", "u1", "Ana")
	require.NoError(t, err)

	color, err := s.MoveCursor("doc-1", "u1")
	require.NoError(t, err)
	require.Equal(t, joined.Color, color)

	_, err = s.MoveCursor("doc-1", "stranger")
	require.True(t, errors.IsCode(err, errors.CodeNotFound))

	_, err = s.MoveCursor("doc-404", "u1")
	require.True(t, errors.IsCode(err, errors.CodeNotFound))
}

func TestService_ApplyChange(t *testing.T) {
	type (
		inputs struct {
			change protocol.Change
		}

		outputs struct {
			change protocol.Change
			err    error
		}
	)

	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"should stamp a valid change with server time": {
			arrange: func() inputs {
				return inputs{change: protocol.Change{
					Type:     "update",
					Target:   "slide",
					TargetID: "sl-1",
				}}
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				require.Equal(t, now.UnixMilli(), out.change.ServerTime)
			},
		},

		"should reject a change without a type": {
			arrange: func() inputs {
				return inputs{change: protocol.Change{Target: "slide", TargetID: "sl-1"}}
			},
			assert: func(t *testing.T, out outputs) {
				require.True(t, errors.IsCode(out.err, errors.CodeInvalidArgument))
			},
		},

		"should reject a change without a target": {
			arrange: func() inputs {
				return inputs{change: protocol.Change{Type: "update", TargetID: "sl-1"}}
			},
			assert: func(t *testing.T, out outputs) {
				require.True(t, errors.IsCode(out.err, errors.CodeInvalidArgument))
			},
		},

		"should reject a change without a target id": {
			arrange: func() inputs {
				return inputs{change: protocol.Change{Type: "update", Target: "slide", TargetID: "  "}}
			},
			assert: func(t *testing.T, out outputs) {
				require.True(t, errors.IsCode(out.err, errors.CodeInvalidArgument))
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in, out := tt.arrange(), outputs{}

			s := makeService(withNow(func() time.Time { return now }))
			_, _, err := s.Join("doc-1", "u1", "Ana")
			require.NoError(t, err)

			out.change, out.err = s.ApplyChange("doc-1", "u1", in.change)

			tt.assert(t, out)
		})
	}
}

func TestService_ApplyChange_RequiresMembership(t *testing.T) {
	s := makeService()

	_, _, err := s.Join("doc-1", "u1", "Ana")
	require.NoError(t, err)

	_, err = s.ApplyChange("doc-1", "stranger", protocol.Change{
		Type:     "update",
		Target:   "slide",
		TargetID: "sl-1",
	})
	require.True(t, errors.IsCode(err, errors.CodeNotFound))
}
