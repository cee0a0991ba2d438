package trust

// Каталог capabilities, на которые выдаются разрешения
const (
	CapabilitySync          = "sync"
	CapabilityMicrophone    = "microphone"
	CapabilityCamera        = "camera"
	CapabilityLocation      = "location"
	CapabilityNotifications = "notifications"
	CapabilitySchedule      = "schedule"
	CapabilityStorage       = "storage"
	CapabilityNetwork       = "network"
	CapabilitySmartHome     = "smart_home"
	CapabilityContacts      = "contacts"
	CapabilityMessages      = "messages"
	CapabilityCalls         = "calls"
)

var capabilities = map[string]struct{}{
	CapabilitySync:          {},
	CapabilityMicrophone:    {},
	CapabilityCamera:        {},
	CapabilityLocation:      {},
	CapabilityNotifications: {},
	CapabilitySchedule:      {},
	CapabilityStorage:       {},
	CapabilityNetwork:       {},
	CapabilitySmartHome:     {},
	CapabilityContacts:      {},
	CapabilityMessages:      {},
	CapabilityCalls:         {},
}

// IsKnownCapability проверяет, что capability есть в каталоге
func IsKnownCapability(name string) bool {
	_, ok := capabilities[name]
	return ok
}
