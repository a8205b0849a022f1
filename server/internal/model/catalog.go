package model

import "math"

// ParamSpec 一个数值参数的边界与目录默认值。
// Min/Max 为 NaN 表示该侧无界；Exclusive 控制对应侧是否开区间。
type ParamSpec struct {
	Field        string
	Label        string
	Min          float64
	Max          float64
	ExclusiveMin bool
	ExclusiveMax bool
	Default      float64
	Step         int
}

// unbounded 哨兵，目录里用它表示“无上/下界”。
var unbounded = math.NaN()

// Catalog 全部数值参数的闭合表。校验器按它判界，
// 推荐器越界时从 Default 出方案。MCS_min 的动态上界
// （严格小于 MCS_max）在一致性规则里另行检查。
var Catalog = []ParamSpec{
	{Field: "numMCS", Label: "number of MCS units", Min: 1, Max: 10, Default: 1, Step: StepScenario},
	{Field: "numCEV", Label: "number of CEVs", Min: 1, Max: 20, Default: 2, Step: StepScenario},
	{Field: "numNodes", Label: "number of nodes", Min: 2, Max: 20, Default: 3, Step: StepScenario},

	{Field: "eta_ch_dch", Label: "charge/discharge efficiency", Min: 0, Max: 1, ExclusiveMin: true, Default: 0.95, Step: StepParameters},
	{Field: "MCS_max", Label: "MCS battery capacity (kWh)", Min: 500, Max: 10000, Default: 1000, Step: StepParameters},
	{Field: "MCS_min", Label: "MCS minimum energy (kWh)", Min: 0, Max: unbounded, ExclusiveMin: true, Default: 100, Step: StepParameters},
	{Field: "MCS_ini", Label: "MCS initial energy (kWh)", Min: 0, Max: unbounded, Default: 1000, Step: StepParameters},
	{Field: "CH_MCS", Label: "MCS charging rate (kW)", Min: 0, Max: unbounded, ExclusiveMin: true, Default: 400, Step: StepParameters},
	{Field: "DCH_MCS", Label: "MCS mobile discharging rate (kW)", Min: 0, Max: unbounded, ExclusiveMin: true, Default: 250, Step: StepParameters},
	{Field: "DCH_MCS_plug", Label: "MCS plug discharging rate (kW)", Min: 0, Max: unbounded, ExclusiveMin: true, Default: 150, Step: StepParameters},
	{Field: "C_MCS_plug", Label: "number of MCS plugs", Min: 1, Max: 10, Default: 4, Step: StepParameters},
	{Field: "k_trv", Label: "travel energy coefficient (kWh/km)", Min: 0, Max: unbounded, ExclusiveMin: true, Default: 1.5, Step: StepParameters},
	{Field: "delta_T", Label: "time step length (h)", Min: 0, Max: 24, ExclusiveMin: true, Default: 1, Step: StepParameters},
	{Field: "rho_miss", Label: "missed work penalty weight", Min: 0, Max: 1, Default: 0.5, Step: StepParameters},

	{Field: "SOE_min", Label: "minimum state of energy (%)", Min: 0, Max: 100, Default: 20, Step: StepEVData},
	{Field: "SOE_max", Label: "maximum state of energy (%)", Min: 0, Max: 100, Default: 90, Step: StepEVData},
	{Field: "SOE_ini", Label: "initial state of energy (%)", Min: 0, Max: 100, Default: 50, Step: StepEVData},
	{Field: "ch_rate", Label: "CEV charging rate (kW)", Min: 0, Max: unbounded, ExclusiveMin: true, Default: 50, Step: StepEVData},

	{Field: "lambda_buy", Label: "electricity price ($/kWh)", Min: 0, Max: unbounded, Default: 0.15, Step: StepTimePeriods},
	{Field: "lambda_CO2", Label: "carbon intensity (kg/kWh)", Min: 0, Max: unbounded, Default: 0.4, Step: StepTimePeriods},
}

var catalogIndex = func() map[string]*ParamSpec {
	idx := make(map[string]*ParamSpec, len(Catalog))
	for i := range Catalog {
		idx[Catalog[i].Field] = &Catalog[i]
	}
	return idx
}()

// Spec 按字段名查目录项，未登记的字段返回 nil。
func Spec(field string) *ParamSpec {
	return catalogIndex[field]
}

// InRange 判断值是否落在参数的闭合边界内。
func (s *ParamSpec) InRange(v float64) bool {
	if !math.IsNaN(s.Min) {
		if s.ExclusiveMin && v <= s.Min {
			return false
		}
		if !s.ExclusiveMin && v < s.Min {
			return false
		}
	}
	if !math.IsNaN(s.Max) {
		if s.ExclusiveMax && v >= s.Max {
			return false
		}
		if !s.ExclusiveMax && v > s.Max {
			return false
		}
	}
	return true
}

// Clamp 把越界值拉回边界内；开区间侧回落到目录默认值。
func (s *ParamSpec) Clamp(v float64) float64 {
	if s.InRange(v) {
		return v
	}
	if !math.IsNaN(s.Min) && (v < s.Min || (s.ExclusiveMin && v <= s.Min)) {
		if s.ExclusiveMin {
			return s.Default
		}
		return s.Min
	}
	if !math.IsNaN(s.Max) && (v > s.Max || (s.ExclusiveMax && v >= s.Max)) {
		if s.ExclusiveMax {
			return s.Default
		}
		return s.Max
	}
	return s.Default
}
