package streamswap

import (
	"testing"

	"github.com/iov-one/weave"
	"github.com/iov-one/weave/errors"
	"github.com/iov-one/weave/weavetest"
)

func TestCreateMarketMsgValidate(t *testing.T) {
	admin := weavetest.NewCondition().Address()

	cases := map[string]struct {
		msg     CreateMarketMsg
		wantErr *errors.Error
	}{
		"valid message": {
			msg: CreateMarketMsg{
				Metadata:    &weave.Metadata{Schema: 1},
				Admin:       admin,
				Input:       "ETH",
				Output:      "DAI",
				ShareScaler: 100000000,
			},
		},
		"subsidy is optional": {
			msg: CreateMarketMsg{
				Metadata:    &weave.Metadata{Schema: 1},
				Admin:       admin,
				Input:       "ETH",
				Output:      "DAI",
				Subsidy:     "RIC",
				ShareScaler: 100000000,
			},
		},
		"missing metadata": {
			msg: CreateMarketMsg{
				Admin:       admin,
				Input:       "ETH",
				Output:      "DAI",
				ShareScaler: 100000000,
			},
			wantErr: errors.ErrMetadata,
		},
		"lowercase input ticker": {
			msg: CreateMarketMsg{
				Metadata:    &weave.Metadata{Schema: 1},
				Admin:       admin,
				Input:       "eth",
				Output:      "DAI",
				ShareScaler: 100000000,
			},
			wantErr: errors.ErrCurrency,
		},
		"zero share scaler": {
			msg: CreateMarketMsg{
				Metadata: &weave.Metadata{Schema: 1},
				Admin:    admin,
				Input:    "ETH",
				Output:   "DAI",
			},
			wantErr: errors.ErrInput,
		},
		"fee over 100 percent": {
			msg: CreateMarketMsg{
				Metadata:    &weave.Metadata{Schema: 1},
				Admin:       admin,
				Input:       "ETH",
				Output:      "DAI",
				ShareScaler: 100000000,
				FeeBps:      10001,
			},
			wantErr: errors.ErrInput,
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

func TestCreateFlowMsgValidate(t *testing.T) {
	account := weavetest.NewCondition().Address()

	cases := map[string]struct {
		msg     CreateFlowMsg
		wantErr *errors.Error
	}{
		"valid message": {
			msg: CreateFlowMsg{
				Metadata: &weave.Metadata{Schema: 1},
				Account:  account,
				Ticker:   "ETH",
				Rate:     100000000,
			},
		},
		"referral tag is optional": {
			msg: CreateFlowMsg{
				Metadata: &weave.Metadata{Schema: 1},
				Account:  account,
				Ticker:   "ETH",
				Rate:     100000000,
				RefTag:   "carl",
			},
		},
		"missing account": {
			msg: CreateFlowMsg{
				Metadata: &weave.Metadata{Schema: 1},
				Ticker:   "ETH",
				Rate:     100000000,
			},
			wantErr: errors.ErrEmpty,
		},
		"zero rate": {
			msg: CreateFlowMsg{
				Metadata: &weave.Metadata{Schema: 1},
				Account:  account,
				Ticker:   "ETH",
			},
			wantErr: errors.ErrInput,
		},
		"negative rate": {
			msg: CreateFlowMsg{
				Metadata: &weave.Metadata{Schema: 1},
				Account:  account,
				Ticker:   "ETH",
				Rate:     -1,
			},
			wantErr: errors.ErrInput,
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

func TestDistributeMsgValidate(t *testing.T) {
	cases := map[string]struct {
		msg     DistributeMsg
		wantErr *errors.Error
	}{
		"valid message": {
			msg: DistributeMsg{
				Metadata: &weave.Metadata{Schema: 1},
				MarketID: weavetest.SequenceID(1),
			},
		},
		"route is optional": {
			msg: DistributeMsg{
				Metadata: &weave.Metadata{Schema: 1},
				MarketID: weavetest.SequenceID(1),
				Route:    []byte("uniswap"),
			},
		},
		"missing market ID": {
			msg: DistributeMsg{
				Metadata: &weave.Metadata{Schema: 1},
			},
			wantErr: errors.ErrInput,
		},
		"truncated market ID": {
			msg: DistributeMsg{
				Metadata: &weave.Metadata{Schema: 1},
				MarketID: []byte{1, 2, 3},
			},
			wantErr: errors.ErrInput,
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
