package datacash

import "github.com/commercekit/paygate/provider"

// Register DataCash provider with the gateway registry
func init() {
	provider.Register("datacash", NewProvider)
}
