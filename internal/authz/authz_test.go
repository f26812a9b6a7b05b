package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Role
		wantErr error
	}{
		{name: "standard role", input: "user", want: RoleStandard},
		{name: "privileged role", input: "admin", want: RolePrivileged},
		{name: "empty fails closed", input: "", want: RoleUnknown, wantErr: ErrUnknownRole},
		{name: "unrecognized fails closed", input: "superuser", want: RoleUnknown, wantErr: ErrUnknownRole},
		{name: "case sensitive", input: "Admin", want: RoleUnknown, wantErr: ErrUnknownRole},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRole(tt.input)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve(t *testing.T) {
	t.Run("standard role is owner scoped", func(t *testing.T) {
		access, err := Resolve(RoleStandard, "alice")
		require.NoError(t, err)

		assert.True(t, access.Predicate().Restricted())
		conds, err := access.Predicate().Conditions()
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"owner_id": "alice"}, conds)
	})

	t.Run("privileged role is unrestricted", func(t *testing.T) {
		access, err := Resolve(RolePrivileged, "admin-1")
		require.NoError(t, err)

		assert.False(t, access.Predicate().Restricted())
		conds, err := access.Predicate().Conditions()
		require.NoError(t, err)
		assert.Empty(t, conds)
	})

	t.Run("unknown role fails closed", func(t *testing.T) {
		_, err := Resolve(RoleUnknown, "alice")
		require.ErrorIs(t, err, ErrUnknownRole)

		_, err = Resolve(Role(42), "alice")
		require.ErrorIs(t, err, ErrUnknownRole)
	})

	t.Run("empty subject is rejected", func(t *testing.T) {
		_, err := Resolve(RoleStandard, "")
		require.ErrorIs(t, err, ErrInvalidSubject)

		_, err = Resolve(RolePrivileged, "")
		require.ErrorIs(t, err, ErrInvalidSubject)
	})
}

func TestPredicateZeroValueIsInvalid(t *testing.T) {
	var p Predicate
	_, err := p.Conditions()
	require.ErrorIs(t, err, ErrInvalidPredicate)

	// A zero AccessContext carries a zero predicate.
	var access AccessContext
	_, err = access.Predicate().Conditions()
	require.ErrorIs(t, err, ErrInvalidPredicate)
}

func TestAccessContextRoundTrip(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		access, err := Resolve(RoleStandard, "alice")
		require.NoError(t, err)

		ctx := ContextWithAccess(context.Background(), access)
		got, err := AccessFromContext(ctx)
		require.NoError(t, err)
		assert.Equal(t, access, got)
	})

	t.Run("missing access returns error", func(t *testing.T) {
		_, err := AccessFromContext(context.Background())
		require.ErrorIs(t, err, ErrMissingAccess)
	})
}

func TestRoleString(t *testing.T) {
	assert.Equal(t, "user", RoleStandard.String())
	assert.Equal(t, "admin", RolePrivileged.String())
	assert.Equal(t, "unknown", RoleUnknown.String())
}
