package slot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gasroute/internal/config"
	"gasroute/internal/model"
)

var sep1 = time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

func slotCfg() config.SlotConfig {
	return config.SlotConfig{DayStartHour: 8, DayEndHour: 18, SlotMinutes: 120, PerSlotPerTeam: 2}
}

func req(id string, prio float64) model.DeliveryRequest {
	return model.DeliveryRequest{CustomerID: id, Date: sep1, Quantity: 1, Priority: prio}
}

func TestBuildDaySlots(t *testing.T) {
	slots, err := BuildDaySlots(sep1, slotCfg(), 3)
	require.NoError(t, err)
	require.Len(t, slots, 5) // 8-10, 10-12, 12-14, 14-16, 16-18
	require.Equal(t, sep1.Add(8*time.Hour), slots[0].Window.Start)
	require.Equal(t, sep1.Add(10*time.Hour), slots[0].Window.End)
	require.Equal(t, 6, slots[0].Capacity)
}

func TestBuildDaySlotsZeroTeams(t *testing.T) {
	slots, err := BuildDaySlots(sep1, slotCfg(), 0)
	require.NoError(t, err)
	for _, s := range slots {
		require.Equal(t, 0, s.Capacity)
	}
}

func TestBuildDaySlotsBadConfig(t *testing.T) {
	bad := slotCfg()
	bad.SlotMinutes = 0
	_, err := BuildDaySlots(sep1, bad, 1)
	require.ErrorIs(t, err, model.ErrBadConfig)
}

func TestAllocateEarliestMatchingSlot(t *testing.T) {
	slots, _ := BuildDaySlots(sep1, slotCfg(), 1)
	customers := map[string]model.Customer{
		// accepts 14:00-16:00 only
		"c1": {ID: "c1", Windows: []model.ClockWindow{{StartMin: 14 * 60, EndMin: 16 * 60}}},
	}
	out, dropped := Allocate([]model.DeliveryRequest{req("c1", 1)}, customers, slots)
	require.Empty(t, dropped)
	require.Empty(t, out[0].Assigned)
	require.Len(t, out[3].Assigned, 1) // the 14-16 slot
}

func TestAllocateNoWindowMeansAnySlot(t *testing.T) {
	slots, _ := BuildDaySlots(sep1, slotCfg(), 1)
	out, dropped := Allocate([]model.DeliveryRequest{req("c1", 1)}, map[string]model.Customer{"c1": {ID: "c1"}}, slots)
	require.Empty(t, dropped)
	require.Len(t, out[0].Assigned, 1, "windowless customers take the earliest slot")
}

func TestAllocatePriorityThenIDOrder(t *testing.T) {
	slots, _ := BuildDaySlots(sep1, slotCfg(), 1) // capacity 2 per slot
	customers := map[string]model.Customer{
		"a": {ID: "a"}, "b": {ID: "b"}, "c": {ID: "c"},
	}
	out, _ := Allocate([]model.DeliveryRequest{req("c", 5), req("a", 1), req("b", 1)}, customers, slots)
	require.Equal(t, "c", out[0].Assigned[0].CustomerID, "highest priority first")
	require.Equal(t, "a", out[0].Assigned[1].CustomerID, "ID ascending on priority tie")
	require.Equal(t, "b", out[1].Assigned[0].CustomerID, "overflow rolls to the next slot")
}

func TestAllocateDropNoCapacity(t *testing.T) {
	narrow := config.SlotConfig{DayStartHour: 8, DayEndHour: 10, SlotMinutes: 120, PerSlotPerTeam: 1}
	slots, _ := BuildDaySlots(sep1, narrow, 1) // one slot, capacity 1
	customers := map[string]model.Customer{"a": {ID: "a"}, "b": {ID: "b"}}
	_, dropped := Allocate([]model.DeliveryRequest{req("a", 2), req("b", 1)}, customers, slots)
	require.Len(t, dropped, 1)
	require.Equal(t, "b", dropped[0].Request.CustomerID)
	require.Equal(t, model.DropNoCapacity, dropped[0].Reason)
}

func TestAllocateDropNoWindowMatch(t *testing.T) {
	slots, _ := BuildDaySlots(sep1, slotCfg(), 1)
	customers := map[string]model.Customer{
		// only accepts 19:00-21:00, outside the working day
		"c1": {ID: "c1", Windows: []model.ClockWindow{{StartMin: 19 * 60, EndMin: 21 * 60}}},
	}
	_, dropped := Allocate([]model.DeliveryRequest{req("c1", 1)}, customers, slots)
	require.Len(t, dropped, 1)
	require.Equal(t, model.DropNoWindowMatch, dropped[0].Reason)
}

func TestAllocatePartialOverlapAccepted(t *testing.T) {
	slots, _ := BuildDaySlots(sep1, slotCfg(), 1)
	customers := map[string]model.Customer{
		// 9:00-11:00 intersects both the 8-10 and 10-12 slots
		"c1": {ID: "c1", Windows: []model.ClockWindow{{StartMin: 9 * 60, EndMin: 11 * 60}}},
	}
	out, dropped := Allocate([]model.DeliveryRequest{req("c1", 1)}, customers, slots)
	require.Empty(t, dropped)
	require.Len(t, out[0].Assigned, 1, "partial intersection with the earliest slot wins")
}

func TestAllocateDoesNotMutateInput(t *testing.T) {
	slots, _ := BuildDaySlots(sep1, slotCfg(), 1)
	reqs := []model.DeliveryRequest{req("b", 1), req("a", 2)}
	_, _ = Allocate(reqs, map[string]model.Customer{"a": {ID: "a"}, "b": {ID: "b"}}, slots)
	require.Equal(t, "b", reqs[0].CustomerID, "input order must be preserved")
	require.Empty(t, slots[0].Assigned, "input slots must stay clean")
}
