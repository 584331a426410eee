package hierarchy

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Ptr(v int64) *int64 { return &v }

func TestValidateSupervisorRule(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()

	t.Run("manager must not carry a supervisor", func(t *testing.T) {
		draft := &Membership{TenantID: 1, UserID: 7, Rank: RankManager, SupervisorID: int64Ptr(5)}
		err := validateSupervisorRule(ctx, db, draft)

		var violation *InvariantViolationError
		require.ErrorAs(t, err, &violation)
		assert.Equal(t, InvariantSupervisorRule, violation.Invariant)
	})

	t.Run("member must have a supervisor", func(t *testing.T) {
		draft := &Membership{TenantID: 1, UserID: 9, Rank: RankMember}
		err := validateSupervisorRule(ctx, db, draft)

		var violation *InvariantViolationError
		require.ErrorAs(t, err, &violation)
		assert.Equal(t, InvariantSupervisorRule, violation.Invariant)
	})

	t.Run("self supervision is a cycle", func(t *testing.T) {
		draft := &Membership{TenantID: 1, UserID: 9, Rank: RankMember, SupervisorID: int64Ptr(9)}
		err := validateSupervisorRule(ctx, db, draft)

		var violation *InvariantViolationError
		require.ErrorAs(t, err, &violation)
		assert.Equal(t, InvariantAcyclicGraph, violation.Invariant)
	})

	t.Run("missing supervisor rejected", func(t *testing.T) {
		mock.ExpectQuery(membershipQuery).WithArgs(int64(1), int64(7)).
			WillReturnRows(sqlmock.NewRows(membershipColumnsList()))

		draft := &Membership{TenantID: 1, UserID: 9, Rank: RankMember, SupervisorID: int64Ptr(7)}
		err := validateSupervisorRule(ctx, db, draft)

		var violation *InvariantViolationError
		require.ErrorAs(t, err, &violation)
		assert.Equal(t, InvariantSupervisorRule, violation.Invariant)
		assert.Contains(t, violation.Detail, "not an eligible manager")
	})

	t.Run("inactive manager rejected with identical detail", func(t *testing.T) {
		mock.ExpectQuery(membershipQuery).WithArgs(int64(1), int64(7)).
			WillReturnRows(membershipRow(101, 1, 7, RankManager, nil, false))

		draft := &Membership{TenantID: 1, UserID: 9, Rank: RankMember, SupervisorID: int64Ptr(7)}
		err := validateSupervisorRule(ctx, db, draft)

		var violation *InvariantViolationError
		require.ErrorAs(t, err, &violation)
		assert.Contains(t, violation.Detail, "not an eligible manager")
	})

	t.Run("member rank supervisor rejected", func(t *testing.T) {
		mock.ExpectQuery(membershipQuery).WithArgs(int64(1), int64(8)).
			WillReturnRows(membershipRow(103, 1, 8, RankMember, int64Ptr(7), true))

		draft := &Membership{TenantID: 1, UserID: 9, Rank: RankMember, SupervisorID: int64Ptr(8)}
		err := validateSupervisorRule(ctx, db, draft)

		var violation *InvariantViolationError
		require.ErrorAs(t, err, &violation)
		assert.Equal(t, InvariantSupervisorRule, violation.Invariant)
	})

	t.Run("owner is an eligible supervisor", func(t *testing.T) {
		mock.ExpectQuery(membershipQuery).WithArgs(int64(1), int64(5)).
			WillReturnRows(membershipRow(100, 1, 5, RankTenantOwner, nil, true))

		draft := &Membership{TenantID: 1, UserID: 9, Rank: RankMember, SupervisorID: int64Ptr(5)}
		require.NoError(t, validateSupervisorRule(ctx, db, draft))
	})

	require.NoError(t, mock.ExpectationsWereMet())
}
