package role

// PermissionLevel is the access level a role holds on a console module.
type PermissionLevel string

// Module permission levels.
const (
	PermissionNone  PermissionLevel = "none"
	PermissionRead  PermissionLevel = "read"
	PermissionWrite PermissionLevel = "write"
)

// Known console module keys.
const (
	ModuleHome          = "home"
	ModuleClients       = "clientes"
	ModuleRoutes        = "rutas"
	ModuleFinance       = "finanzas"
	ModuleThemes        = "temas"
	ModuleUsers         = "usuarios"
	ModuleConfiguration = "configuracion"
)

// ModuleKeys lists every known module key in display order.
var ModuleKeys = []string{
	ModuleHome,
	ModuleClients,
	ModuleRoutes,
	ModuleFinance,
	ModuleThemes,
	ModuleUsers,
	ModuleConfiguration,
}

// AbilityMatrix is the derived capability set for a role: boolean ability
// flags plus a per-module permission level. It is recomputed from the role,
// never mutated in place, and never persisted independently.
type AbilityMatrix struct {
	ManageUsers         bool `json:"manageUsers"`
	ManageTheme         bool `json:"manageTheme"`
	ManageOrganizations bool `json:"manageOrganizations"`
	ViewFinance         bool `json:"viewFinance"`
	EditFinance         bool `json:"editFinance"`
	ViewRoutes          bool `json:"viewRoutes"`
	EditRoutes          bool `json:"editRoutes"`
	ViewClients         bool `json:"viewClients"`
	EditClients         bool `json:"editClients"`

	// ModulePermissions always contains an entry for every key in
	// ModuleKeys.
	ModulePermissions map[string]PermissionLevel `json:"modulePermissions"`
}

// abilityTable is the single source of truth for role capabilities.
// Module permissions listed here override the all-read baseline; omitted
// modules fall back to PermissionRead.
var abilityTable = map[Role]AbilityMatrix{
	RoleAdmin: {
		ManageUsers:         true,
		ManageTheme:         true,
		ManageOrganizations: true,
		ViewFinance:         true,
		EditFinance:         true,
		ViewRoutes:          true,
		EditRoutes:          true,
		ViewClients:         true,
		EditClients:         true,
		ModulePermissions: map[string]PermissionLevel{
			ModuleClients:       PermissionWrite,
			ModuleRoutes:        PermissionWrite,
			ModuleFinance:       PermissionWrite,
			ModuleThemes:        PermissionWrite,
			ModuleUsers:         PermissionWrite,
			ModuleConfiguration: PermissionWrite,
		},
	},
	RoleManager: {
		ManageTheme: true,
		ViewFinance: true,
		EditFinance: true,
		ViewRoutes:  true,
		EditRoutes:  true,
		ViewClients: true,
		EditClients: true,
		ModulePermissions: map[string]PermissionLevel{
			ModuleClients: PermissionWrite,
			ModuleRoutes:  PermissionWrite,
			ModuleFinance: PermissionWrite,
			ModuleThemes:  PermissionWrite,
		},
	},
	RoleOperator: {
		ViewRoutes:  true,
		EditRoutes:  true,
		ViewClients: true,
		EditClients: true,
		ModulePermissions: map[string]PermissionLevel{
			ModuleClients:       PermissionWrite,
			ModuleRoutes:        PermissionWrite,
			ModuleFinance:       PermissionNone,
			ModuleUsers:         PermissionNone,
			ModuleConfiguration: PermissionNone,
		},
	},
	RoleViewer: {
		ViewRoutes:  true,
		ViewClients: true,
		ModulePermissions: map[string]PermissionLevel{
			ModuleUsers:         PermissionNone,
			ModuleConfiguration: PermissionNone,
		},
	},
	RoleControl: {
		ViewFinance: true,
		ViewRoutes:  true,
		ViewClients: true,
		ModulePermissions: map[string]PermissionLevel{
			ModuleFinance:       PermissionWrite,
			ModuleUsers:         PermissionNone,
			ModuleConfiguration: PermissionNone,
		},
	},
	RoleDemo: {
		ViewFinance: true,
		ViewRoutes:  true,
		ViewClients: true,
	},
	RoleGuest: {
		ModulePermissions: map[string]PermissionLevel{
			ModuleHome:          PermissionNone,
			ModuleClients:       PermissionNone,
			ModuleRoutes:        PermissionNone,
			ModuleFinance:       PermissionNone,
			ModuleThemes:        PermissionNone,
			ModuleUsers:         PermissionNone,
			ModuleConfiguration: PermissionNone,
		},
	},
}

// Abilities returns the ability matrix for a role. Unknown roles resolve to
// the default role's matrix. The returned matrix owns its permission map; a
// caller can mutate it without affecting subsequent calls.
func Abilities(r Role) AbilityMatrix {
	m, ok := abilityTable[r]
	if !ok {
		m = abilityTable[DefaultRole]
	}

	perms := make(map[string]PermissionLevel, len(ModuleKeys))
	for _, key := range ModuleKeys {
		perms[key] = PermissionRead
	}
	for key, level := range m.ModulePermissions {
		perms[key] = level
	}
	m.ModulePermissions = perms

	return m
}

// HasModulePermission reports whether the matrix grants at least the given
// level on a module. PermissionWrite implies PermissionRead.
func (m AbilityMatrix) HasModulePermission(moduleKey string, level PermissionLevel) bool {
	granted, ok := m.ModulePermissions[moduleKey]
	if !ok {
		return false
	}
	switch level {
	case PermissionNone:
		return true
	case PermissionRead:
		return granted == PermissionRead || granted == PermissionWrite
	case PermissionWrite:
		return granted == PermissionWrite
	default:
		return false
	}
}
