package receive

import "testing"

func TestParseParamsDefaults(t *testing.T) {
	p, err := ParseParams("")
	if err != nil {
		t.Fatalf("ParseParams: %v", err)
	}
	if p.V != 1 {
		t.Fatalf("V = %d, want 1", p.V)
	}
	if p.DisableOutputSubstitution {
		t.Fatal("DisableOutputSubstitution should default false")
	}
}

func TestParseParamsFull(t *testing.T) {
	q := "v=2&disableoutputsubstitution=true&additionalfeeoutputindex=1&maxadditionalfeecontribution=5000&minfeerate=2.5&optimisticmerge=true"
	p, err := ParseParams(q)
	if err != nil {
		t.Fatalf("ParseParams: %v", err)
	}
	if p.V != 2 {
		t.Fatalf("V = %d, want 2", p.V)
	}
	if !p.DisableOutputSubstitution {
		t.Fatal("DisableOutputSubstitution should be true")
	}
	if p.AdditionalFeeOutputIndex == nil || *p.AdditionalFeeOutputIndex != 1 {
		t.Fatalf("AdditionalFeeOutputIndex = %v, want 1", p.AdditionalFeeOutputIndex)
	}
	if p.MaxAdditionalFeeContribution == nil || *p.MaxAdditionalFeeContribution != 5000 {
		t.Fatalf("MaxAdditionalFeeContribution = %v, want 5000", p.MaxAdditionalFeeContribution)
	}
	if p.MinFeeRate == nil || *p.MinFeeRate != 2.5 {
		t.Fatalf("MinFeeRate = %v, want 2.5", p.MinFeeRate)
	}
	if !p.OptimisticMerge {
		t.Fatal("OptimisticMerge should be true")
	}
}

func TestParseParamsUnsupportedVersion(t *testing.T) {
	if _, err := ParseParams("v=3"); err == nil {
		t.Fatal("expected SenderParams error for unsupported v")
	}
}
