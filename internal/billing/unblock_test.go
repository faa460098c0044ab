package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-billing-api/internal/models"
)

func TestUnblockTransitions(t *testing.T) {
	cases := []struct {
		name    string
		current models.UnblockStatus
		action  UnblockAction
		status  models.FeeStatus
		want    models.UnblockStatus
		wantErr error
	}{
		{"request while blocked", models.UnblockNone, ActionRequest, models.FeeStatusBlocked, models.UnblockPending, nil},
		{"empty state treated as none", "", ActionRequest, models.FeeStatusBlocked, models.UnblockPending, nil},
		{"request while overdue", models.UnblockNone, ActionRequest, models.FeeStatusOverdue, models.UnblockNone, ErrNotBlocked},
		{"duplicate request", models.UnblockPending, ActionRequest, models.FeeStatusBlocked, models.UnblockPending, ErrInvalidTransition},
		{"approve pending", models.UnblockPending, ActionApprove, models.FeeStatusBlocked, models.UnblockApproved, nil},
		{"reject pending reverts to none", models.UnblockPending, ActionReject, models.FeeStatusBlocked, models.UnblockNone, nil},
		{"expire pending", models.UnblockPending, ActionExpire, models.FeeStatusBlocked, models.UnblockNone, nil},
		{"approve without request", models.UnblockNone, ActionApprove, models.FeeStatusBlocked, models.UnblockNone, ErrInvalidTransition},
		{"reject after approval", models.UnblockApproved, ActionReject, models.FeeStatusOverdue, models.UnblockApproved, ErrInvalidTransition},
		{"unknown action", models.UnblockPending, UnblockAction("escalate"), models.FeeStatusBlocked, models.UnblockPending, ErrInvalidTransition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NextUnblockState(tc.current, tc.action, tc.status)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tc.want, got)
		})
	}
}
