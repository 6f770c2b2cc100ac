package dibs

import "github.com/commercekit/paygate/provider"

// Register DIBS provider with the gateway registry
func init() {
	provider.Register("dibs", NewProvider)
}
