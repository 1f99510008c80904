package supporttools

import (
	"context"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/harun/deskd/pkg/tools"
)

// RegisterTroubleshoot adds the device diagnostics and warranty tools.
// The firmware reset wipes customer maps and schedules, so it always
// goes through a reviewer.
func RegisterTroubleshoot(registry *tools.Registry) error {
	defs := []tools.Definition{
		{
			Name:        "check_device_status",
			Description: "Retrieve sensor data, battery health, and error logs for a device.",
			Parameters: []tools.Parameter{
				{Name: "serial_number", Type: "string", Description: "The device serial number.", Required: true},
			},
			SideEffect: tools.SideEffectReadOnly,
			Approval:   tools.ApprovalPolicy{Mode: tools.ApprovalNever},
			Handler:    checkDeviceStatus,
		},
		{
			Name:        "run_diagnostic",
			Description: "Trigger a remote self-test of the device's hardware components.",
			Parameters: []tools.Parameter{
				{Name: "serial_number", Type: "string", Description: "The device serial number.", Required: true},
			},
			SideEffect: tools.SideEffectReadOnly,
			Approval:   tools.ApprovalPolicy{Mode: tools.ApprovalNever},
			Handler:    runDiagnostic,
		},
		{
			Name:        "check_warranty",
			Description: "Check warranty status and coverage for a device.",
			Parameters: []tools.Parameter{
				{Name: "serial_number", Type: "string", Description: "The device serial number.", Required: true},
			},
			SideEffect: tools.SideEffectReadOnly,
			Approval:   tools.ApprovalPolicy{Mode: tools.ApprovalNever},
			Handler:    checkWarranty,
		},
		{
			Name:        "reset_firmware",
			Description: "Factory reset the device and reinstall the latest firmware. Deletes saved maps and schedules.",
			Parameters: []tools.Parameter{
				{Name: "serial_number", Type: "string", Description: "The device serial number.", Required: true},
			},
			SideEffect: tools.SideEffectMutating,
			Approval:   tools.ApprovalPolicy{Mode: tools.ApprovalAlways},
			Handler:    resetFirmware,
		},
		{
			Name:        "schedule_repair",
			Description: "Log a hardware failure and schedule a technician visit.",
			Parameters: []tools.Parameter{
				{Name: "serial_number", Type: "string", Description: "The device serial number.", Required: true},
				{Name: "part_needed", Type: "string", Description: "The component requiring replacement.", Required: true},
				{Name: "address", Type: "string", Description: "The customer's service address.", Required: true},
			},
			SideEffect: tools.SideEffectMutating,
			Approval:   tools.ApprovalPolicy{Mode: tools.ApprovalNever},
			Handler:    scheduleRepair,
		},
	}

	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func checkDeviceStatus(_ context.Context, args map[string]interface{}) (interface{}, error) {
	serial, _ := args["serial_number"].(string)
	return map[string]interface{}{
		"serial_number":    serial,
		"model":            "SmartClean Pro-X",
		"battery_level":    15,
		"firmware_version": "v2.1.0",
		"last_error_code":  "E102",
		"component_health": []map[string]interface{}{
			{"component": "Lidar Sensor", "status": "OK"},
			{"component": "Left Wheel Motor", "status": "STALLED"},
			{"component": "Suction Fan", "status": "OK"},
			{"component": "Main Brush", "status": "OK"},
		},
		"error_history": []string{
			"E102: Wheel Motor Obstruction",
			"E004: Battery Low",
		},
	}, nil
}

func runDiagnostic(_ context.Context, args map[string]interface{}) (interface{}, error) {
	serial, _ := args["serial_number"].(string)
	return fmt.Sprintf("Remote diagnostics for %s completed. Detected high resistance in Left Wheel Motor; suction and lidar tests passed.", serial), nil
}

func checkWarranty(_ context.Context, args map[string]interface{}) (interface{}, error) {
	serial, _ := args["serial_number"].(string)
	return map[string]interface{}{
		"serial_number": serial,
		"covered":       true,
		"expires":       "2025-12-31",
		"coverage":      "manufacturing defects",
	}, nil
}

func resetFirmware(_ context.Context, args map[string]interface{}) (interface{}, error) {
	serial, _ := args["serial_number"].(string)
	return fmt.Sprintf("Factory reset initiated for %s. Custom maps and schedules cleared; device is now on firmware v2.1.1.", serial), nil
}

func scheduleRepair(_ context.Context, args map[string]interface{}) (interface{}, error) {
	serial, _ := args["serial_number"].(string)
	part, _ := args["part_needed"].(string)
	address, _ := args["address"].(string)
	if part == "" || address == "" {
		return nil, fmt.Errorf("part identification and service address are required")
	}

	return map[string]interface{}{
		"ticket_id": "RP-" + gonanoid.Must(8),
		"message":   fmt.Sprintf("A technician will arrive at %s with a replacement %s for %s within 48 hours.", address, part, serial),
	}, nil
}
