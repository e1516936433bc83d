package sqlassets

import _ "embed"

//go:embed schema/control_plane/core.sql
var ControlPlaneSQL string

//go:embed schema/tenant_space/core.sql
var TenantSchemaSQL string
