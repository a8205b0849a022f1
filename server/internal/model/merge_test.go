package model

import "testing"

func TestMergeExplicitOverwrites(t *testing.T) {
	form := FormData{}
	form.Scenario.NumMCS = IntPtr(1)

	patch := ExtractionResult{}
	patch.Scenario.NumMCS = IntPtr(3)

	updates := MergePatch(&form, &patch)
	if form.Scenario.NumMCS == nil || *form.Scenario.NumMCS != 3 {
		t.Fatalf("Expected numMCS=3, got %v", form.Scenario.NumMCS)
	}
	if len(updates) != 1 {
		t.Errorf("Expected 1 update, got %d", len(updates))
	}
	t.Logf("✓ 用户明说的值覆盖旧值: numMCS=%d", *form.Scenario.NumMCS)
}

func TestMergeInferredOnlyFillsEmpty(t *testing.T) {
	form := FormData{}
	form.Scenario.NumNodes = IntPtr(5)

	patch := ExtractionResult{Inferred: []string{"numNodes"}}
	patch.Scenario.NumNodes = IntPtr(4)

	MergePatch(&form, &patch)
	if *form.Scenario.NumNodes != 5 {
		t.Fatalf("Inferred value must not overwrite, got %d", *form.Scenario.NumNodes)
	}

	empty := FormData{}
	MergePatch(&empty, &patch)
	if empty.Scenario.NumNodes == nil || *empty.Scenario.NumNodes != 4 {
		t.Fatal("Inferred value should fill an empty field")
	}
	t.Logf("✓ 推断值只填空，不覆盖")
}

func TestMergeAbsentFieldsUntouched(t *testing.T) {
	form := FormData{}
	form.Scenario.NumCEV = IntPtr(3)
	form.Parameters.MCSMax = Float64Ptr(1000)

	patch := ExtractionResult{}
	patch.Scenario.NumMCS = IntPtr(2)

	MergePatch(&form, &patch)
	if *form.Scenario.NumCEV != 3 || *form.Parameters.MCSMax != 1000 {
		t.Fatal("Absent patch fields must not touch existing state")
	}
	t.Logf("✓ 补丁缺席字段保持原样")
}

func TestMergeIdempotent(t *testing.T) {
	form := FormData{}
	patch := ExtractionResult{}
	patch.Scenario.NumMCS = IntPtr(2)
	patch.Scenario.NumCEV = IntPtr(3)
	patch.Parameters.EtaChDch = Float64Ptr(0.9)

	first := MergePatch(&form, &patch)
	second := MergePatch(&form, &patch)
	if len(first) == 0 {
		t.Fatal("First merge should produce updates")
	}
	if len(second) != 0 {
		t.Fatalf("Identical patch must be a no-op, got %d updates", len(second))
	}
	t.Logf("✓ 同一补丁合两次无副作用")
}

func TestMergeEVAssignmentExclusivity(t *testing.T) {
	form := FormData{}
	patch := ExtractionResult{}
	patch.Locations = []Location{
		{ID: 1, Type: LocationTypeGrid, EVAssignments: map[int]int{1: 1}},
		{ID: 2, Type: LocationTypeConstruction, EVAssignments: map[int]int{1: 1}},
		{ID: 3, Type: LocationTypeConstruction, EVAssignments: map[int]int{1: 1}},
	}

	MergePatch(&form, &patch)

	if grid := form.GridLocation(); grid == nil || len(grid.EVAssignments) != 0 {
		t.Fatal("Grid node must never hold assignments")
	}
	if n := form.AssignmentCount(1); n != 1 {
		t.Fatalf("EV 1 must be assigned to exactly one site, got %d", n)
	}
	if form.Locations[2].EVAssignments[1] != 1 {
		t.Error("Last assignment should win")
	}
	t.Logf("✓ 派驻排他性: EV1 只留在节点 %d", 3)
}

func TestMergeEVRecordsByID(t *testing.T) {
	form := FormData{}
	form.EVData = []EVRecord{{ID: 1, SOEMin: Float64Ptr(20)}}

	patch := ExtractionResult{}
	patch.EVData = []EVRecord{{ID: 1, SOEMax: Float64Ptr(90)}, {ID: 2, SOEIni: Float64Ptr(50)}}

	MergePatch(&form, &patch)
	if len(form.EVData) != 2 {
		t.Fatalf("Expected 2 EV records, got %d", len(form.EVData))
	}
	if *form.EVData[0].SOEMin != 20 || *form.EVData[0].SOEMax != 90 {
		t.Error("EV 1 should keep SOE_min and gain SOE_max")
	}
	t.Logf("✓ EV 记录按编号逐字段合并")
}
