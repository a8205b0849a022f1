package model

// 抽取补丁合入会话表单的策略：
//   - 用户明说的字段直接覆盖旧值；
//   - 标记为推断的字段只允许填空，不覆盖已有值；
//   - 补丁里缺席（nil / 空切片）的字段保持原样。
// 同一补丁合两次结果不变。

// MergePatch 把一棵稀疏抽取结果合入 dst，返回实际生效的字段更新列表。
func MergePatch(dst *FormData, patch *ExtractionResult) []FormUpdate {
	inferred := make(map[string]bool, len(patch.Inferred))
	for _, f := range patch.Inferred {
		inferred[f] = true
	}

	var updates []FormUpdate

	mergeInt := func(section, field string, dstp **int, src *int) {
		if src == nil {
			return
		}
		if inferred[field] && *dstp != nil {
			return
		}
		if *dstp != nil && **dstp == *src {
			return
		}
		v := *src
		*dstp = &v
		updates = append(updates, FormUpdate{Section: section, Field: field, Value: v, Inferred: inferred[field]})
	}
	mergeFloat := func(section, field string, dstp **float64, src *float64) {
		if src == nil {
			return
		}
		if inferred[field] && *dstp != nil {
			return
		}
		if *dstp != nil && **dstp == *src {
			return
		}
		v := *src
		*dstp = &v
		updates = append(updates, FormUpdate{Section: section, Field: field, Value: v, Inferred: inferred[field]})
	}
	mergeBool := func(section, field string, dstp **bool, src *bool) {
		if src == nil {
			return
		}
		if inferred[field] && *dstp != nil {
			return
		}
		if *dstp != nil && **dstp == *src {
			return
		}
		v := *src
		*dstp = &v
		updates = append(updates, FormUpdate{Section: section, Field: field, Value: v, Inferred: inferred[field]})
	}

	mergeInt("scenario", "numMCS", &dst.Scenario.NumMCS, patch.Scenario.NumMCS)
	mergeInt("scenario", "numCEV", &dst.Scenario.NumCEV, patch.Scenario.NumCEV)
	mergeInt("scenario", "numNodes", &dst.Scenario.NumNodes, patch.Scenario.NumNodes)
	mergeBool("scenario", "is24Hours", &dst.Scenario.Is24Hours, patch.Scenario.Is24Hours)
	if patch.Scenario.ScenarioName != "" && patch.Scenario.ScenarioName != dst.Scenario.ScenarioName {
		if !(inferred["scenarioName"] && dst.Scenario.ScenarioName != "") {
			dst.Scenario.ScenarioName = patch.Scenario.ScenarioName
			updates = append(updates, FormUpdate{Section: "scenario", Field: "scenarioName", Value: patch.Scenario.ScenarioName, Inferred: inferred["scenarioName"]})
		}
	}

	mergeFloat("parameters", "eta_ch_dch", &dst.Parameters.EtaChDch, patch.Parameters.EtaChDch)
	mergeFloat("parameters", "MCS_max", &dst.Parameters.MCSMax, patch.Parameters.MCSMax)
	mergeFloat("parameters", "MCS_min", &dst.Parameters.MCSMin, patch.Parameters.MCSMin)
	mergeFloat("parameters", "MCS_ini", &dst.Parameters.MCSIni, patch.Parameters.MCSIni)
	mergeFloat("parameters", "CH_MCS", &dst.Parameters.CHMCS, patch.Parameters.CHMCS)
	mergeFloat("parameters", "DCH_MCS", &dst.Parameters.DCHMCS, patch.Parameters.DCHMCS)
	mergeFloat("parameters", "DCH_MCS_plug", &dst.Parameters.DCHMCSPlug, patch.Parameters.DCHMCSPlug)
	mergeInt("parameters", "C_MCS_plug", &dst.Parameters.CMCSPlug, patch.Parameters.CMCSPlug)
	mergeFloat("parameters", "k_trv", &dst.Parameters.KTrv, patch.Parameters.KTrv)
	mergeFloat("parameters", "delta_T", &dst.Parameters.DeltaT, patch.Parameters.DeltaT)
	mergeFloat("parameters", "rho_miss", &dst.Parameters.RhoMiss, patch.Parameters.RhoMiss)

	updates = append(updates, mergeEVData(dst, patch, inferred)...)
	updates = append(updates, mergeLocations(dst, patch)...)

	if len(patch.TimeData) > 0 {
		dst.TimeData = append([]TimePeriod(nil), patch.TimeData...)
		updates = append(updates, FormUpdate{Section: "timeData", Field: "periods", Value: len(patch.TimeData)})
	}
	if len(patch.DistanceMatrix) > 0 {
		dst.DistanceMatrix = copyMatrix(patch.DistanceMatrix)
		updates = append(updates, FormUpdate{Section: "distanceMatrix", Field: "matrix", Value: len(patch.DistanceMatrix)})
	}
	if len(patch.TravelTimeMatrix) > 0 {
		dst.TravelTimeMatrix = copyMatrix(patch.TravelTimeMatrix)
		updates = append(updates, FormUpdate{Section: "travelTimeMatrix", Field: "matrix", Value: len(patch.TravelTimeMatrix)})
	}
	if len(patch.WorkData) > 0 {
		dst.WorkData = append([]WorkItem(nil), patch.WorkData...)
		updates = append(updates, FormUpdate{Section: "workData", Field: "items", Value: len(patch.WorkData)})
	}

	normalizeAssignments(dst)
	return updates
}

// mergeEVData 按 EV 编号逐字段合并；补丁里新出现的编号追加记录。
func mergeEVData(dst *FormData, patch *ExtractionResult, inferred map[string]bool) []FormUpdate {
	var updates []FormUpdate
	for _, rec := range patch.EVData {
		target := evByID(dst, rec.ID)
		if target == nil {
			dst.EVData = append(dst.EVData, EVRecord{ID: rec.ID})
			target = &dst.EVData[len(dst.EVData)-1]
		}
		section := "evData"
		fields := []struct {
			name string
			dstp **float64
			src  *float64
		}{
			{"SOE_min", &target.SOEMin, rec.SOEMin},
			{"SOE_max", &target.SOEMax, rec.SOEMax},
			{"SOE_ini", &target.SOEIni, rec.SOEIni},
			{"ch_rate", &target.ChRate, rec.ChRate},
		}
		for _, f := range fields {
			if f.src == nil {
				continue
			}
			if inferred[f.name] && *f.dstp != nil {
				continue
			}
			if *f.dstp != nil && **f.dstp == *f.src {
				continue
			}
			v := *f.src
			*f.dstp = &v
			updates = append(updates, FormUpdate{Section: section, Field: f.name, Value: v, Inferred: inferred[f.name]})
		}
	}
	return updates
}

// mergeLocations 按节点 ID 合并名称、类型和派驻表。
func mergeLocations(dst *FormData, patch *ExtractionResult) []FormUpdate {
	var updates []FormUpdate
	for _, loc := range patch.Locations {
		target := locationByID(dst, loc.ID)
		if target == nil {
			dst.Locations = append(dst.Locations, Location{ID: loc.ID, Type: loc.Type})
			target = &dst.Locations[len(dst.Locations)-1]
			updates = append(updates, FormUpdate{Section: "locations", Field: "type", Value: loc.Type})
		} else if loc.Type != "" && loc.Type != target.Type {
			target.Type = loc.Type
			updates = append(updates, FormUpdate{Section: "locations", Field: "type", Value: loc.Type})
		}
		if loc.Name != "" && loc.Name != target.Name {
			target.Name = loc.Name
			updates = append(updates, FormUpdate{Section: "locations", Field: "name", Value: loc.Name})
		}
		for ev, flag := range loc.EVAssignments {
			if target.EVAssignments == nil {
				target.EVAssignments = make(map[int]int)
			}
			if target.EVAssignments[ev] != flag {
				target.EVAssignments[ev] = flag
				updates = append(updates, FormUpdate{Section: "locations", Field: "evAssignments", Value: map[string]int{"ev": ev, "location": loc.ID, "assigned": flag}})
			}
		}
	}
	return updates
}

// normalizeAssignments 维持“每台 EV 最多派驻一个节点”的排他性：
// 同一 EV 在多个节点出现时，保留列表里最后出现的节点，
// 其余清零；grid 节点上的派驻一律清除。
func normalizeAssignments(dst *FormData) {
	last := map[int]int{}
	for i := range dst.Locations {
		loc := &dst.Locations[i]
		if loc.Type == LocationTypeGrid {
			loc.EVAssignments = nil
			continue
		}
		for ev, flag := range loc.EVAssignments {
			if flag == 1 {
				last[ev] = loc.ID
			}
		}
	}
	for i := range dst.Locations {
		loc := &dst.Locations[i]
		for ev, flag := range loc.EVAssignments {
			if flag == 1 && last[ev] != loc.ID {
				loc.EVAssignments[ev] = 0
			}
		}
	}
}

func evByID(f *FormData, id int) *EVRecord {
	for i := range f.EVData {
		if f.EVData[i].ID == id {
			return &f.EVData[i]
		}
	}
	return nil
}

func locationByID(f *FormData, id int) *Location {
	for i := range f.Locations {
		if f.Locations[i].ID == id {
			return &f.Locations[i]
		}
	}
	return nil
}

func copyMatrix(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row...)
	}
	return out
}
