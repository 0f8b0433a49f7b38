// Package actions maps opaque tool-call results from the agent into the
// small, typed set of UI-highlight intents the dashboard knows how to
// render. Pure functions, no state, no I/O.
package actions

import (
	"encoding/json"
	"strings"
)

// Priority ranks how prominently the dashboard should surface an item.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Item is a UI hint derived from a tool result or from keyword scanning
// of free response text. Immutable after creation.
type Item struct {
	Kind        string          `json:"kind"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Priority    Priority        `json:"priority"`
}

// interpretFunc builds an Item from one tool invocation. A nil return
// means the tool produced nothing worth highlighting.
type interpretFunc func(args, result json.RawMessage) *Item

// toolTable is the fixed dispatch table from tool name to interpreter.
// Unknown tool names yield no item.
var toolTable = map[string]interpretFunc{
	"lookup_vehicle":       interpretVehicleLookup,
	"driver_wellness":      interpretDriverWellness,
	"route_risk":           interpretRouteRisk,
	"schedule_maintenance": interpretMaintenance,
	"start_dispatch_call":  interpretDispatchCall,
	"cost_summary":         interpretCostSummary,
}

// Interpret maps one (toolName, args, result) triple to an optional Item.
func Interpret(toolName string, args, result json.RawMessage) *Item {
	fn, ok := toolTable[toolName]
	if !ok {
		return nil
	}
	return fn(args, result)
}

func interpretVehicleLookup(args, result json.RawMessage) *Item {
	var r struct {
		VehicleID string `json:"vehicle_id"`
		Status    string `json:"status"`
	}
	_ = json.Unmarshal(result, &r)
	title := "Vehicle details"
	if r.VehicleID != "" {
		title = "Vehicle " + r.VehicleID
	}
	return &Item{
		Kind:        "vehicle_highlight",
		Title:       title,
		Description: r.Status,
		Payload:     result,
		Priority:    PriorityMedium,
	}
}

func interpretDriverWellness(args, result json.RawMessage) *Item {
	var r struct {
		Driver string `json:"driver"`
		Score  int    `json:"score"`
	}
	_ = json.Unmarshal(result, &r)
	prio := PriorityMedium
	if r.Score > 0 && r.Score < 40 {
		prio = PriorityHigh
	}
	title := "Driver wellness"
	if r.Driver != "" {
		title = "Wellness: " + r.Driver
	}
	return &Item{
		Kind:     "driver_wellness",
		Title:    title,
		Payload:  result,
		Priority: prio,
	}
}

func interpretRouteRisk(args, result json.RawMessage) *Item {
	var r struct {
		Route string `json:"route"`
		Level string `json:"level"`
	}
	_ = json.Unmarshal(result, &r)
	prio := PriorityMedium
	if strings.EqualFold(r.Level, "high") || strings.EqualFold(r.Level, "critical") {
		prio = PriorityHigh
	}
	return &Item{
		Kind:        "route_risk",
		Title:       "Route risk",
		Description: r.Level,
		Payload:     result,
		Priority:    prio,
	}
}

func interpretMaintenance(args, result json.RawMessage) *Item {
	return &Item{
		Kind:     "maintenance_scheduled",
		Title:    "Maintenance scheduled",
		Payload:  result,
		Priority: PriorityMedium,
	}
}

func interpretDispatchCall(args, result json.RawMessage) *Item {
	return &Item{
		Kind:     "dispatch_call",
		Title:    "Dispatch call started",
		Payload:  result,
		Priority: PriorityHigh,
	}
}

func interpretCostSummary(args, result json.RawMessage) *Item {
	return &Item{
		Kind:     "cost_summary",
		Title:    "Cost summary",
		Payload:  result,
		Priority: PriorityLow,
	}
}
