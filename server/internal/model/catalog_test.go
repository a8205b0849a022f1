package model

import "testing"

func TestCatalogBounds(t *testing.T) {
	cases := []struct {
		field string
		value float64
		ok    bool
	}{
		{"numMCS", 1, true},
		{"numMCS", 11, false},
		{"numCEV", 20, true},
		{"numCEV", 0, false},
		{"eta_ch_dch", 1, true},
		{"eta_ch_dch", 0, false}, // 开区间下界
		{"MCS_max", 500, true},
		{"MCS_max", 50, false},
		{"MCS_max", 10001, false},
		{"CH_MCS", 400, true},
		{"CH_MCS", 0, false},
		{"delta_T", 24, true},
		{"delta_T", 25, false},
		{"rho_miss", 0, true},
		{"SOE_min", 100, true},
		{"SOE_min", 101, false},
	}
	for _, c := range cases {
		spec := Spec(c.field)
		if spec == nil {
			t.Fatalf("Field %s missing from catalog", c.field)
		}
		if got := spec.InRange(c.value); got != c.ok {
			t.Errorf("%s: InRange(%v)=%t, want %t", c.field, c.value, got, c.ok)
		}
	}
	t.Logf("✓ 目录边界判定 %d 例全部通过", len(cases))
}

func TestCatalogClampStaysInRange(t *testing.T) {
	for i := range Catalog {
		spec := &Catalog[i]
		for _, v := range []float64{-1e9, -1, 0, 0.5, 50, 1e9} {
			if got := spec.Clamp(v); !spec.InRange(got) {
				t.Errorf("%s: Clamp(%v)=%v is out of range", spec.Field, v, got)
			}
		}
		if !spec.InRange(spec.Default) {
			t.Errorf("%s: default %v is out of its own range", spec.Field, spec.Default)
		}
	}
	t.Logf("✓ Clamp 结果与默认值都在界内")
}

func TestStepNames(t *testing.T) {
	if StepName(1) != "scenario_setup" || StepName(8) != "review_generate" {
		t.Error("Unexpected step names")
	}
	if StepName(0) != "unknown" || StepName(9) != "unknown" {
		t.Error("Out-of-range steps should be unknown")
	}
	if ClampStep(0) != 1 || ClampStep(99) != 8 || ClampStep(5) != 5 {
		t.Error("ClampStep must bound into [1,8]")
	}
	t.Logf("✓ 步骤命名与钳位正确")
}
