package affiliate

import (
	"testing"

	"github.com/iov-one/weave"
	"github.com/iov-one/weave/errors"
	"github.com/iov-one/weave/weavetest"
)

func TestApplyMsgValidate(t *testing.T) {
	owner := weavetest.NewCondition().Address()

	cases := map[string]struct {
		msg     ApplyMsg
		wantErr *errors.Error
	}{
		"valid message": {
			msg: ApplyMsg{
				Metadata: &weave.Metadata{Schema: 1},
				Handle:   "carl_01",
				Owner:    owner,
			},
		},
		"missing metadata": {
			msg: ApplyMsg{
				Handle: "carl_01",
				Owner:  owner,
			},
			wantErr: errors.ErrMetadata,
		},
		"handle too short": {
			msg: ApplyMsg{
				Metadata: &weave.Metadata{Schema: 1},
				Handle:   "no",
				Owner:    owner,
			},
			wantErr: errors.ErrInput,
		},
		"handle with forbidden characters": {
			msg: ApplyMsg{
				Metadata: &weave.Metadata{Schema: 1},
				Handle:   "Carl!",
				Owner:    owner,
			},
			wantErr: errors.ErrInput,
		},
		"missing owner": {
			msg: ApplyMsg{
				Metadata: &weave.Metadata{Schema: 1},
				Handle:   "carl_01",
			},
			wantErr: errors.ErrEmpty,
		},
	}

	for testName, tc := range cases {
		t.Run(testName, func(t *testing.T) {
			if err := tc.msg.Validate(); !tc.wantErr.Is(err) {
				t.Fatalf("unexpected validation error: %s", err)
			}
		})
	}
}

func TestSafeRegisterMsgAllowsEmptyHandle(t *testing.T) {
	msg := SafeRegisterMsg{
		Metadata: &weave.Metadata{Schema: 1},
		Customer: weavetest.NewCondition().Address(),
	}
	if err := msg.Validate(); err != nil {
		t.Fatalf("empty handle must be allowed: %s", err)
	}
}
