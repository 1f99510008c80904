package supporttools

import "github.com/harun/deskd/pkg/tools"

// RegisterAll registers every built-in support tool.
func RegisterAll(registry *tools.Registry) error {
	if err := RegisterBilling(registry); err != nil {
		return err
	}
	if err := RegisterReturns(registry); err != nil {
		return err
	}
	return RegisterTroubleshoot(registry)
}
