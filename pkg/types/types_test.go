package types

import "testing"

func TestPermissionOrdering(t *testing.T) {
	t.Parallel()

	levels := []PermissionLevel{ReadOnly, ReadWrite, ReadWriteWithdraw}
	for i, held := range levels {
		for j, required := range levels {
			got := held.Allows(required)
			want := i >= j
			if got != want {
				t.Errorf("%s.Allows(%s) = %v, want %v", held, required, got, want)
			}
		}
	}
}

func TestPermissionUnknownLevel(t *testing.T) {
	t.Parallel()

	if PermissionLevel("admin").Allows(ReadOnly) {
		t.Error("unknown level must not grant read_only")
	}
	if ReadOnly.Allows(PermissionLevel("bogus")) {
		t.Error("unknown required level must not be satisfiable")
	}
}

func TestSplitSymbol(t *testing.T) {
	t.Parallel()

	base, quote, ok := SplitSymbol("BTC/USDT")
	if !ok || base != "BTC" || quote != "USDT" {
		t.Errorf("SplitSymbol(BTC/USDT) = %q, %q, %v", base, quote, ok)
	}

	for _, bad := range []string{"BTCUSDT", "/USDT", "BTC/", ""} {
		if _, _, ok := SplitSymbol(bad); ok {
			t.Errorf("SplitSymbol(%q) should fail", bad)
		}
	}
}

func TestSideOpposite(t *testing.T) {
	t.Parallel()

	if Buy.Opposite() != Sell || Sell.Opposite() != Buy {
		t.Error("Opposite must flip buy and sell")
	}
}

func TestValueDefault(t *testing.T) {
	t.Parallel()

	if Value(nil, 3.5) != 3.5 {
		t.Error("nil pointer should yield default")
	}
	if Value(Float(1.25), 0) != 1.25 {
		t.Error("non-nil pointer should yield its value")
	}
}
