package model

// 八步向导的表单树。所有标量用指针表达“有没有被用户填过”：
// nil 表示该字段本轮/至今未提供，合并策略据此判断能否覆盖。
// 字段的 JSON 命名沿用优化模型的符号（MCS_max、eta_ch_dch 等），
// 前端与 CSV 生成器都按这套键名消费。

// LocationTypeGrid / LocationTypeConstruction 是节点仅有的两种类型。
// 不变式：一个场景里恰好一个 grid 节点。
const (
	LocationTypeGrid         = "grid"
	LocationTypeConstruction = "construction"
)

// Scenario 场景规模（第 1 步）：设备数量与时长模式。
type Scenario struct {
	NumMCS       *int   `json:"numMCS,omitempty"`
	NumCEV       *int   `json:"numCEV,omitempty"`
	NumNodes     *int   `json:"numNodes,omitempty"`
	Is24Hours    *bool  `json:"is24Hours,omitempty"`
	ScenarioName string `json:"scenarioName,omitempty"`
}

// Parameters 模型系数（第 2 步）。
type Parameters struct {
	EtaChDch   *float64 `json:"eta_ch_dch,omitempty"`
	MCSMax     *float64 `json:"MCS_max,omitempty"`
	MCSMin     *float64 `json:"MCS_min,omitempty"`
	MCSIni     *float64 `json:"MCS_ini,omitempty"`
	CHMCS      *float64 `json:"CH_MCS,omitempty"`
	DCHMCS     *float64 `json:"DCH_MCS,omitempty"`
	DCHMCSPlug *float64 `json:"DCH_MCS_plug,omitempty"`
	CMCSPlug   *int     `json:"C_MCS_plug,omitempty"`
	KTrv       *float64 `json:"k_trv,omitempty"`
	DeltaT     *float64 `json:"delta_T,omitempty"`
	RhoMiss    *float64 `json:"rho_miss,omitempty"`
}

// EVRecord 单台 CEV 的电池参数（第 3 步）。SOE 以百分比计。
type EVRecord struct {
	ID     int      `json:"id"`
	SOEMin *float64 `json:"SOE_min,omitempty"`
	SOEMax *float64 `json:"SOE_max,omitempty"`
	SOEIni *float64 `json:"SOE_ini,omitempty"`
	ChRate *float64 `json:"ch_rate,omitempty"`
}

// Location 节点（第 4 步）。EVAssignments 的键是 EV 编号，值 1 表示派驻。
type Location struct {
	ID            int         `json:"id"`
	Name          string      `json:"name,omitempty"`
	Type          string      `json:"type"`
	EVAssignments map[int]int `json:"evAssignments,omitempty"`
}

// TimePeriod 一个计价时段（第 5 步）：电价与碳排强度。
type TimePeriod struct {
	Time      string   `json:"time"`
	LambdaBuy *float64 `json:"lambda_buy,omitempty"`
	LambdaCO2 *float64 `json:"lambda_CO2,omitempty"`
}

// WorkItem 某节点上某台 EV 的逐时段功率需求（第 7 步）。
type WorkItem struct {
	Location         int       `json:"location"`
	EV               int       `json:"ev"`
	WorkRequirements []float64 `json:"workRequirements,omitempty"`
}

// FormData 会话累计的领域表单。同一结构也承担“部分更新”角色：
// 抽取结果就是一棵稀疏的 FormData。
type FormData struct {
	Scenario         Scenario     `json:"scenario"`
	Parameters       Parameters   `json:"parameters"`
	EVData           []EVRecord   `json:"evData,omitempty"`
	Locations        []Location   `json:"locations,omitempty"`
	TimeData         []TimePeriod `json:"timeData,omitempty"`
	DistanceMatrix   [][]float64  `json:"distanceMatrix,omitempty"`
	TravelTimeMatrix [][]float64  `json:"travelTimeMatrix,omitempty"`
	WorkData         []WorkItem   `json:"workData,omitempty"`
}

// IsEmpty 判断一棵表单是否一个字段都没填。
func (f *FormData) IsEmpty() bool {
	s := f.Scenario
	if s.NumMCS != nil || s.NumCEV != nil || s.NumNodes != nil || s.Is24Hours != nil || s.ScenarioName != "" {
		return false
	}
	if !f.Parameters.isEmpty() {
		return false
	}
	return len(f.EVData) == 0 && len(f.Locations) == 0 && len(f.TimeData) == 0 &&
		len(f.DistanceMatrix) == 0 && len(f.TravelTimeMatrix) == 0 && len(f.WorkData) == 0
}

func (p *Parameters) isEmpty() bool {
	return p.EtaChDch == nil && p.MCSMax == nil && p.MCSMin == nil && p.MCSIni == nil &&
		p.CHMCS == nil && p.DCHMCS == nil && p.DCHMCSPlug == nil && p.CMCSPlug == nil &&
		p.KTrv == nil && p.DeltaT == nil && p.RhoMiss == nil
}

// GridLocation 返回类型为 grid 的节点；不存在时返回 nil。
func (f *FormData) GridLocation() *Location {
	for i := range f.Locations {
		if f.Locations[i].Type == LocationTypeGrid {
			return &f.Locations[i]
		}
	}
	return nil
}

// AssignmentCount 统计某台 EV 被派驻到多少个节点。
func (f *FormData) AssignmentCount(ev int) int {
	n := 0
	for i := range f.Locations {
		if f.Locations[i].EVAssignments[ev] == 1 {
			n++
		}
	}
	return n
}

// 指针便捷构造，抽取器与测试里大量使用。
func IntPtr(v int) *int             { return &v }
func BoolPtr(v bool) *bool          { return &v }
func Float64Ptr(v float64) *float64 { return &v }
