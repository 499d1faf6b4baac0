package schemas

import (
	_ "embed"
)

//go:embed inventory.schema.json
var InventorySchema []byte
