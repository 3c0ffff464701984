package memo

import (
	"context"
	"testing"

	xerrors "AgentEscrow-Chain/internal/errors"
	"AgentEscrow-Chain/internal/ledger"
)

func TestParse(t *testing.T) {
	cases := []struct {
		raw     string
		want    Memo
		wantErr bool
	}{
		{raw: "fund:42", want: Memo{Kind: KindFund, ID: 42}},
		{raw: "  challenge:7\n", want: Memo{Kind: KindChallenge, ID: 7}},
		{raw: "stake", want: Memo{Kind: KindStake}},
		{raw: "arbstake", want: Memo{Kind: KindArbitratorStake}},
		{raw: "FUND:1", wantErr: true},
		{raw: "fund:", wantErr: true},
		{raw: "fund:0", wantErr: true},
		{raw: "fund:-3", wantErr: true},
		{raw: "fund:+3", wantErr: true},
		{raw: "fund:1x", wantErr: true},
		{raw: "stake:1", wantErr: true},
		{raw: "tip", wantErr: true},
		{raw: "", wantErr: true},
	}
	for _, tc := range cases {
		got, err := Parse(tc.raw)
		if tc.wantErr {
			if !xerrors.HasCode(err, xerrors.CodeMemoProtocol) {
				t.Fatalf("Parse(%q) expected memo protocol error, got %v", tc.raw, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Parse(%q): %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("Parse(%q) = %+v, want %+v", tc.raw, got, tc.want)
		}
	}
}

func TestBuildersRoundTrip(t *testing.T) {
	if m, err := Parse(Fund(9)); err != nil || m.ID != 9 || m.Kind != KindFund {
		t.Fatalf("fund memo: %+v %v", m, err)
	}
	if m, err := Parse(Challenge(3)); err != nil || m.ID != 3 || m.Kind != KindChallenge {
		t.Fatalf("challenge memo: %+v %v", m, err)
	}
}

func TestRouterDispatch(t *testing.T) {
	r := NewRouter()
	var got Memo
	r.Handle(KindFund, func(_ context.Context, m Memo, in ledger.Transfer) error {
		got = m
		if in.Amount != 10 {
			t.Fatalf("unexpected amount %d", in.Amount)
		}
		return nil
	})

	if err := r.Route(context.Background(), ledger.Transfer{Memo: "fund:5", Amount: 10}); err != nil {
		t.Fatalf("route: %v", err)
	}
	if got.ID != 5 {
		t.Fatalf("handler saw %+v", got)
	}
	err := r.Route(context.Background(), ledger.Transfer{Memo: "stake", Amount: 1})
	if !xerrors.HasCode(err, xerrors.CodeMemoProtocol) {
		t.Fatalf("unregistered kind should be memo protocol error, got %v", err)
	}
}
